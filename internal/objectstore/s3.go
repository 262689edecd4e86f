/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements. See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/go-errors/errors"
	"github.com/rhodium-data/target-redshift/internal/logging"
	spiconfig "github.com/rhodium-data/target-redshift/spi/config"
	"github.com/rhodium-data/target-redshift/spi/objectstore"
	"github.com/samber/lo"
)

type s3Store struct {
	logger   *logging.Logger
	bucket   string
	acl      *string
	client   *s3.S3
	uploader *s3manager.Uploader
}

// NewS3Store builds the staging client from the aws_* configuration keys.
// Explicit credentials win over a profile; with neither, the default AWS
// credential chain applies.
func NewS3Store(
	c *spiconfig.Config,
) (objectstore.Store, error) {

	logger, err := logging.NewLogger("S3Store")
	if err != nil {
		return nil, err
	}

	awsConfig := aws.NewConfig()
	if c.AwsAccessKeyId != "" && c.AwsSecretAccessKey != "" {
		awsConfig = awsConfig.WithCredentials(
			credentials.NewStaticCredentials(c.AwsAccessKeyId, c.AwsSecretAccessKey, c.AwsSessionToken),
		)
	}

	awsSession, err := session.NewSessionWithOptions(session.Options{
		Config:            *awsConfig,
		Profile:           c.AwsProfile,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	var acl *string
	if c.S3Acl != "" {
		acl = aws.String(c.S3Acl)
	}

	return &s3Store{
		logger:   logger,
		bucket:   c.S3Bucket,
		acl:      acl,
		client:   s3.New(awsSession),
		uploader: s3manager.NewUploader(awsSession),
	}, nil
}

func (s *s3Store) Upload(
	ctx context.Context, key string, body io.Reader,
) error {

	s.logger.Debugf("Uploading s3://%s/%s", s.bucket, key)
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		ACL:    s.acl,
		Body:   body,
	})
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func (s *s3Store) Delete(
	ctx context.Context, keys []string,
) error {

	if len(keys) == 0 {
		return nil
	}

	objects := lo.Map(keys, func(key string, _ int) *s3.ObjectIdentifier {
		return &s3.ObjectIdentifier{Key: aws.String(key)}
	})

	_, err := s.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &s3.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func (s *s3Store) URI(
	key string,
) string {

	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}
