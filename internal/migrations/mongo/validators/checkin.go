package validators

import "go.mongodb.org/mongo-driver/bson"

var CheckinValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"_id",
			"user_id",
			"place_id",
			"status",
			"is_active",
			"created_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType":  "string",
				"minLength": 36,
				"maxLength": 36,
			},

			"user_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 128,
			},

			"place_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 256,
			},

			"status": bson.M{
				"enum": []string{"available", "busy"},
			},

			"topic": bson.M{
				"bsonType":  "string",
				"maxLength": 400,
			},

			"is_active": bson.M{
				"bsonType": "bool",
			},

			"created_at": bson.M{
				"bsonType": "date",
			},

			"checked_out_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}
