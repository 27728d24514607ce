package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-otp-accounts/internal/domain"
)

// ChallengeRepo stores the single outstanding OTP challenge per email.
// PK: email. TTL attribute: ttl. Writes after creation are conditional on revision.
type ChallengeRepo struct {
	client    itemAPI
	tableName string
}

func NewChallengeRepo(client itemAPI, tableName string) *ChallengeRepo {
	return &ChallengeRepo{client: client, tableName: tableName}
}

func (r *ChallengeRepo) Get(ctx context.Context, email string) (*domain.Challenge, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            emailKey(email),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("challenge not found: %w", domain.ErrNotFound)
	}
	var c domain.Challenge
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal challenge: %w", err)
	}
	return &c, nil
}

// Put replaces any existing challenge unconditionally.
func (r *ChallengeRepo) Put(ctx context.Context, ch domain.Challenge) error {
	item, err := attributevalue.MarshalMap(ch)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

// Update writes ch only if the stored revision is still prevRevision.
func (r *ChallengeRepo) Update(ctx context.Context, prevRevision string, ch domain.Challenge) error {
	item, err := attributevalue.MarshalMap(ch)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	cond, names, values := revisionCondition(prevRevision)
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(r.tableName),
		Item:                      item,
		ConditionExpression:       cond,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	return asConflict(err, "update challenge")
}

// Delete removes the challenge only if the stored revision is still revision.
func (r *ChallengeRepo) Delete(ctx context.Context, email, revision string) error {
	cond, names, values := revisionCondition(revision)
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       emailKey(email),
		ConditionExpression:       cond,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	return asConflict(err, "delete challenge")
}
