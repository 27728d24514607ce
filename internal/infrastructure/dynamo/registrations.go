package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-otp-accounts/internal/config"
	"github.com/go-otp-accounts/internal/domain"
)

// RegistrationRepo writes an account and its fresh challenge in one transaction.
type RegistrationRepo struct {
	client          itemAPI
	accountsTable   string
	challengesTable string
}

func NewRegistrationRepo(client itemAPI, tables config.DynamoTables) *RegistrationRepo {
	return &RegistrationRepo{
		client:          client,
		accountsTable:   tables.Accounts,
		challengesTable: tables.Challenges,
	}
}

// Save fails with ErrAlreadyVerified when a verified account already holds the
// email; in that case neither item is written.
func (r *RegistrationRepo) Save(ctx context.Context, acct domain.Account, ch domain.Challenge) error {
	acctItem, err := attributevalue.MarshalMap(acct)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	chItem, err := attributevalue.MarshalMap(ch)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(r.accountsTable),
				Item:                acctItem,
				ConditionExpression: aws.String("attribute_not_exists(#pk) OR #verified = :false"),
				ExpressionAttributeNames: map[string]string{
					"#pk":       fieldEmail,
					"#verified": fieldVerified,
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":false": &types.AttributeValueMemberBOOL{Value: false},
				},
			}},
			{Put: &types.Put{
				TableName: aws.String(r.challengesTable),
				Item:      chItem,
			}},
		},
	})
	if err != nil {
		if cancelledOnCondition(err, 0) {
			return fmt.Errorf("register %s: %w", acct.Email, domain.ErrAlreadyVerified)
		}
		return fmt.Errorf("register %s: %w", acct.Email, err)
	}
	return nil
}
