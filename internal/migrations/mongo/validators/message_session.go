package validators

import "go.mongodb.org/mongo-driver/bson"

var MessageSessionValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"_id",
			"place_id",
			"initiator_id",
			"initiatee_id",
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

			"place_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 256,
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

			"source_request_id": bson.M{
				"bsonType":  "string",
				"minLength": 36,
				"maxLength": 36,
			},

			"status": bson.M{
				"enum": []string{"active", "expired", "closed"},
			},

			"created_at":      bson.M{"bsonType": "date"},
			"expires_at":      bson.M{"bsonType": "date"},
			"closed_at":       bson.M{"bsonType": "date"},
			"last_message_at": bson.M{"bsonType": "date"},
		},
	},
}

var MessageValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"_id",
			"session_id",
			"sender_id",
			"recipient_id",
			"place_id",
			"content",
			"created_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType":  "string",
				"minLength": 36,
				"maxLength": 36,
			},

			"session_id": bson.M{
				"bsonType":  "string",
				"minLength": 36,
				"maxLength": 36,
			},

			"sender_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 128,
			},

			"recipient_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 128,
			},

			"content": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"created_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}
