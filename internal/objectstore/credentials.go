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
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/go-errors/errors"
	spiconfig "github.com/rhodium-data/target-redshift/spi/config"
)

// CopyCredentials resolves the credentials embedded into COPY commands when
// no role ARN is configured. Static keys win, otherwise the configured
// profile (or the default chain) is asked, which also covers temporary
// session credentials.
func CopyCredentials(
	c *spiconfig.Config,
) (func() (string, string, string, error), error) {

	if c.AwsAccessKeyId != "" && c.AwsSecretAccessKey != "" {
		return func() (string, string, string, error) {
			return c.AwsAccessKeyId, c.AwsSecretAccessKey, c.AwsSessionToken, nil
		}, nil
	}

	awsSession, err := session.NewSessionWithOptions(session.Options{
		Config:            *aws.NewConfig(),
		Profile:           c.AwsProfile,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	return func() (string, string, string, error) {
		value, err := awsSession.Config.Credentials.Get()
		if err != nil {
			return "", "", "", errors.Wrap(err, 0)
		}
		return value.AccessKeyID, value.SecretAccessKey, value.SessionToken, nil
	}, nil
}
