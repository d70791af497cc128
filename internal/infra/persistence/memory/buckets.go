package memory

import (
	"encoding/json"
	"fmt"
)

// Bucket names used by the snapshotting SQL backends.
const (
	BucketNodes          = "nodes"
	BucketEdges          = "edges"
	BucketConnectionSets = "connection_sets"
)

// Buckets lists the snapshot buckets in persistence order.
func Buckets() []string {
	return []string{BucketNodes, BucketEdges, BucketConnectionSets}
}

// EncodeBuckets marshals each snapshot bucket to JSON.
func EncodeBuckets(snapshot Snapshot) (map[string][]byte, error) {
	out := make(map[string][]byte, 3)
	for _, bucket := range Buckets() {
		var (
			data []byte
			err  error
		)
		switch bucket {
		case BucketNodes:
			data, err = json.Marshal(snapshot.Nodes)
		case BucketEdges:
			data, err = json.Marshal(snapshot.Edges)
		case BucketConnectionSets:
			data, err = json.Marshal(snapshot.ConnectionSets)
		}
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBucket unmarshals payload into the snapshot field named by bucket.
// Unknown buckets are ignored so older tables keep loading.
func DecodeBucket(snapshot *Snapshot, bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var target any
	switch bucket {
	case BucketNodes:
		target = &snapshot.Nodes
	case BucketEdges:
		target = &snapshot.Edges
	case BucketConnectionSets:
		target = &snapshot.ConnectionSets
	default:
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
