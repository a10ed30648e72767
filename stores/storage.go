package stores

import (
	"os"

	"promptcanvas/core"
	"promptcanvas/stores/aws"
	"promptcanvas/stores/filesystem"
	"promptcanvas/stores/memory"
	"promptcanvas/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// GetStore picks the image store from STORAGE_TYPE. Anything unknown falls
// back to memory.
func GetStore() core.ImageStore {
	storageType := os.Getenv("STORAGE_TYPE")
	var store core.ImageStore

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "filesystem":
		basePath := os.Getenv("LOCAL_STORAGE_PATH")
		if basePath == "" {
			basePath = "./data"
		}
		storageField["basePath"] = basePath
		store = filesystem.NewStore(basePath)
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "promptcanvas.db"
		}
		storageField["dataSourceName"] = dataSourceName
		store = sqlite.NewStore(dataSourceName)
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		storageField["bucketName"] = bucketName
		store = aws.NewStore(bucketName)
	default:
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}
