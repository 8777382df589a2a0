// Package minio implements blobstore.BlobStore on MinIO and other
// S3-compatible object stores using the minio-go client.
package minio
