package models

import "fmt"

// Bucket is one of the four mutually exclusive categories a non-rejected row
// falls into.
type Bucket string

const (
	BucketValid        Bucket = "valid"
	BucketError        Bucket = "error"
	BucketXlsDuplicate Bucket = "xls_duplicate"
	BucketDBDuplicate  Bucket = "db_duplicate"
)

// AllBuckets lists the buckets in display order.
var AllBuckets = []Bucket{BucketValid, BucketError, BucketXlsDuplicate, BucketDBDuplicate}

// ParseBucket accepts the wire names of the buckets.
func ParseBucket(s string) (Bucket, error) {
	switch Bucket(s) {
	case BucketValid, BucketError, BucketXlsDuplicate, BucketDBDuplicate:
		return Bucket(s), nil
	}
	return "", fmt.Errorf("unknown bucket %q", s)
}
