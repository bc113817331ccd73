package validators

import "go.mongodb.org/mongo-driver/bson"

var MessageRequestValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"_id",
			"initiator_id",
			"initiatee_id",
			"place_id",
			"pair_key",
			"status",
			"created_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType":  "string",
				"minLength": 36,
				"maxLength": 36,
			},

			"initiator_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 128,
			},

			"initiatee_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 128,
			},

			"place_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 256,
			},

			"pair_key": bson.M{
				"bsonType":  "string",
				"minLength": 3,
			},

			"status": bson.M{
				"enum": []string{"pending", "accepted", "rejected", "canceled", "expired"},
			},

			"created_at": bson.M{
				"bsonType": "date",
			},

			"responded_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}
