package mongo

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func findIndex(models []mongo.IndexModel, name string) *mongo.IndexModel {
	for i := range models {
		if models[i].Options != nil && models[i].Options.Name != nil && *models[i].Options.Name == name {
			return &models[i]
		}
	}
	return nil
}

func TestUniqueIndexes(t *testing.T) {
	tests := []struct {
		name    string
		models  []mongo.IndexModel
		index   string
		partial bson.M
		sparse  bool
	}{
		{"active checkin", CheckinsIndexes, "one_active_checkin_per_user", bson.M{"is_active": true}, false},
		{"pending request", MessageRequestsIndexes, "one_pending_request_per_pair", bson.M{"status": "pending"}, false},
		{"session per request", MessageSessionsIndexes, "one_session_per_request", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := findIndex(tt.models, tt.index)
			if idx == nil {
				t.Fatalf("index %s not declared", tt.index)
			}
			if idx.Options.Unique == nil || !*idx.Options.Unique {
				t.Error("index must be unique")
			}
			if tt.partial != nil {
				got, ok := idx.Options.PartialFilterExpression.(bson.M)
				if !ok || len(got) != len(tt.partial) {
					t.Fatalf("partial filter = %v, want %v", idx.Options.PartialFilterExpression, tt.partial)
				}
				for k, v := range tt.partial {
					if got[k] != v {
						t.Errorf("partial filter[%s] = %v, want %v", k, got[k], v)
					}
				}
			}
			if tt.sparse && (idx.Options.Sparse == nil || !*idx.Options.Sparse) {
				t.Error("index must be sparse")
			}
		})
	}
}

func TestCollections_CoverEveryStore(t *testing.T) {
	want := []string{"Checkins", "Message_requests", "Message_sessions", "Messages", "Feed_cursors"}
	got := Collections()
	for _, name := range want {
		if _, ok := got[name]; !ok {
			t.Errorf("collection %s missing from migrations", name)
		}
	}
}
