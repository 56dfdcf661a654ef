package grantor

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/sts"
)

// STSCredentials implements CloudCredentials on top of AWS STS. Each call
// assumes the configured role with an inline session policy, so the returned
// keys can do no more than the single resource/action the decision granted.
type STSCredentials struct {
	svc     *sts.STS
	roleARN string
}

func NewSTSCredentials(sess *session.Session, roleARN string) *STSCredentials {
	return &STSCredentials{svc: sts.New(sess), roleARN: roleARN}
}

func (c *STSCredentials) AssumeScopedRole(ctx context.Context, policyDocument, sessionName string, duration time.Duration) (*CloudCredential, error) {
	out, err := c.svc.AssumeRoleWithContext(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(c.roleARN),
		RoleSessionName: aws.String(sessionName),
		Policy:          aws.String(policyDocument),
		DurationSeconds: aws.Int64(int64(duration / time.Second)),
	})
	if err != nil {
		if request.IsErrorRetryable(err) || request.IsErrorThrottle(err) {
			return nil, Transient(fmt.Errorf("assume role: %w", err))
		}
		return nil, fmt.Errorf("assume role: %w", err)
	}
	cred := out.Credentials
	return &CloudCredential{
		AccessKeyID:  aws.StringValue(cred.AccessKeyId),
		SecretKey:    aws.StringValue(cred.SecretAccessKey),
		SessionToken: aws.StringValue(cred.SessionToken),
		ExpiresAt:    aws.TimeValue(cred.Expiration),
	}, nil
}

// S3Presigner implements Presigner with SDK request presigning.
type S3Presigner struct {
	svc *s3.S3
}

func NewS3Presigner(sess *session.Session) *S3Presigner {
	return &S3Presigner{svc: s3.New(sess)}
}

func (p *S3Presigner) Presign(ctx context.Context, bucket, key, operation string, ttl time.Duration) (string, error) {
	var req *request.Request
	switch operation {
	case PresignGetObject:
		req, _ = p.svc.GetObjectRequest(&s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
	case PresignPutObject:
		req, _ = p.svc.PutObjectRequest(&s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
	case PresignDeleteObject:
		req, _ = p.svc.DeleteObjectRequest(&s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
	default:
		return "", fmt.Errorf("unsupported presign operation %q", operation)
	}
	req.SetContext(ctx)
	url, err := req.Presign(ttl)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", operation, err)
	}
	return url, nil
}
