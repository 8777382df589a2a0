// Package s3 implements blobstore.BlobStore on Amazon S3.
//
// Reads use ranged GetObject requests. Streaming writes are fed through a
// pipe into the SDK's multipart upload manager, so snapshot size is not
// bounded by memory.
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "vats/v7/")
package s3
