package helpers

import (
	"go.mongodb.org/mongo-driver/bson"
)

// EncodeBSON encodes an attribute map into BSON. The demo Data Source
// under cmd/keyperdemo/memds round-trips its seed data through BSON
// rather than plain JSON, matching Keyper's Mongo-flavored query
// language.
func EncodeBSON(entity map[string]any) ([]byte, error) {
	return bson.Marshal(entity)
}

// DecodeBSON decodes a BSON document back into an attribute map.
func DecodeBSON(data []byte) (map[string]any, error) {
	var decoded map[string]any
	if err := bson.Unmarshal(data, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}
