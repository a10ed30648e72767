package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"time"

	"promptcanvas/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const imagePrefix = "images/"

// objectAPI is the subset of *s3.Client the store uses.
type objectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// s3Store keeps one JSON object per image under images/ in the bucket.
type s3Store struct {
	s3Client objectAPI
	bucket   string
}

// NewStore creates a new S3-based store.
func NewStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	return newStore(s3.NewFromConfig(cfg), bucketName)
}

func newStore(client objectAPI, bucketName string) *s3Store {
	return &s3Store{
		s3Client: client,
		bucket:   bucketName,
	}
}

func (s *s3Store) imageKey(id string) (string, error) {
	// ids become object keys and must not be paths
	if id == "" || path.Base(id) != id || id == "." || id == ".." {
		return "", fmt.Errorf("invalid image id %q", id)
	}
	return imagePrefix + id + ".json", nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func (s *s3Store) get(ctx context.Context, key string) (*core.Image, error) {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("image at %s: %w", key, core.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get image %s: %v", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %v", key, err)
	}
	var img core.Image
	if err := json.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %v", key, err)
	}
	return &img, nil
}

func (s *s3Store) put(ctx context.Context, img *core.Image) error {
	key, err := s.imageKey(img.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(img)
	if err != nil {
		return err
	}
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload image %s: %v", img.ID, err)
	}
	return nil
}

func (s *s3Store) List(ctx context.Context) ([]*core.Image, error) {
	images := []*core.Image{}
	paginator := s3.NewListObjectsV2Paginator(s.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(imagePrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list images: %v", err)
		}
		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			img, err := s.get(ctx, key)
			if err != nil {
				logrus.WithError(err).WithField("key", key).Warn("Failed to read image object, skipping")
				continue
			}
			images = append(images, img)
		}
	}
	core.SortNewestFirst(images)

	logrus.Debugf("Listed %d images", len(images))
	return images, nil
}

func (s *s3Store) Create(ctx context.Context, prompt, imageURL string, x, y int) (*core.Image, error) {
	now := time.Now().UTC()
	img := &core.Image{
		ID:        ulid.Make().String(),
		Prompt:    prompt,
		ImageURL:  imageURL,
		PositionX: x,
		PositionY: y,
		CreatedAt: now,
		UpdatedAt: now,
	}
	log := logrus.WithField("image_id", img.ID)
	if err := s.put(ctx, img); err != nil {
		log.WithError(err).Error("Failed to create image")
		return nil, err
	}
	log.Info("Image created successfully")
	return img, nil
}

func (s *s3Store) load(ctx context.Context, id string) (*core.Image, error) {
	key, err := s.imageKey(id)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, key)
}

func (s *s3Store) Update(ctx context.Context, id, prompt, imageURL string) (*core.Image, error) {
	log := logrus.WithField("image_id", id)
	img, err := s.load(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Image not found for update")
		return nil, err
	}
	img.Prompt = prompt
	img.ImageURL = imageURL
	img.UpdatedAt = time.Now().UTC()
	if err := s.put(ctx, img); err != nil {
		log.WithError(err).Error("Failed to update image")
		return nil, err
	}
	log.Info("Image updated successfully")
	return img, nil
}

func (s *s3Store) UpdatePosition(ctx context.Context, id string, x, y int) error {
	log := logrus.WithField("image_id", id)
	img, err := s.load(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Image not found for move")
		return err
	}
	img.PositionX, img.PositionY = x, y
	img.UpdatedAt = time.Now().UTC()
	if err := s.put(ctx, img); err != nil {
		log.WithError(err).Error("Failed to move image")
		return err
	}
	log.WithFields(logrus.Fields{"x": x, "y": y}).Info("Image moved successfully")
	return nil
}

func (s *s3Store) Delete(ctx context.Context, id string) error {
	key, err := s.imageKey(id)
	if err != nil {
		return err
	}
	log := logrus.WithField("image_id", id)

	// DeleteObject succeeds for missing keys, so check first
	if _, err := s.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		if isNotFound(err) {
			log.Warn("Image not found for deletion")
			return fmt.Errorf("image with id %s: %w", id, core.ErrNotFound)
		}
		return fmt.Errorf("failed to check image %s: %v", id, err)
	}

	if _, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		log.WithError(err).Error("Failed to delete image")
		return fmt.Errorf("failed to delete image %s: %v", id, err)
	}
	log.Info("Image deleted successfully")
	return nil
}
