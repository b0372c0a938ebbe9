// Package customers stores customer tags, custom fields and conversation routing
// state shared with the auto-responder.
package customers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "replyflow:"

const (
	fieldDepartment = "department"
	fieldAutoReply  = "auto_reply"
	fieldAddress    = "address"
)

// RedisStore keeps tags in a set, fields in a hash of JSON values and
// conversation routing in a hash per conversation.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func tagsKey(customerID string) string {
	return keyPrefix + "customer:" + customerID + ":tags"
}

func fieldsKey(customerID string) string {
	return keyPrefix + "customer:" + customerID + ":fields"
}

func conversationKey(conversationID string) string {
	return keyPrefix + "conversation:" + conversationID
}

func (s *RedisStore) AddTag(ctx context.Context, customerID, tag string) error {
	err := s.client.SAdd(ctx, tagsKey(customerID), tag).Err()
	if err != nil {
		return fmt.Errorf("failed to add tag %q to customer %s: %w", tag, customerID, err)
	}

	return nil
}

func (s *RedisStore) RemoveTag(ctx context.Context, customerID, tag string) error {
	err := s.client.SRem(ctx, tagsKey(customerID), tag).Err()
	if err != nil {
		return fmt.Errorf("failed to remove tag %q from customer %s: %w", tag, customerID, err)
	}

	return nil
}

func (s *RedisStore) SetField(ctx context.Context, customerID, field string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode field %s: %w", field, err)
	}

	err = s.client.HSet(ctx, fieldsKey(customerID), field, encoded).Err()
	if err != nil {
		return fmt.Errorf("failed to set field %s on customer %s: %w", field, customerID, err)
	}

	return nil
}

func (s *RedisStore) Profile(ctx context.Context, customerID string) (map[string]any, error) {
	tags, err := s.client.SMembers(ctx, tagsKey(customerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read tags of customer %s: %w", customerID, err)
	}

	slices.Sort(tags)

	fields, err := s.client.HGetAll(ctx, fieldsKey(customerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read fields of customer %s: %w", customerID, err)
	}

	profile := make(map[string]any, len(fields)+2)

	for field, raw := range fields {
		var value any

		if json.Unmarshal([]byte(raw), &value) != nil {
			value = raw
		}

		profile[field] = value
	}

	profile["id"] = customerID
	profile["tags"] = tags

	return profile, nil
}

func (s *RedisStore) SetDepartment(ctx context.Context, conversationID, department string) error {
	err := s.client.HSet(ctx, conversationKey(conversationID), fieldDepartment, department).Err()
	if err != nil {
		return fmt.Errorf("failed to set department of conversation %s: %w", conversationID, err)
	}

	return nil
}

func (s *RedisStore) DisableAutoReply(ctx context.Context, conversationID string) error {
	return s.setAutoReply(ctx, conversationID, false)
}

func (s *RedisStore) EnableAutoReply(ctx context.Context, conversationID string) error {
	return s.setAutoReply(ctx, conversationID, true)
}

func (s *RedisStore) setAutoReply(ctx context.Context, conversationID string, enabled bool) error {
	value := "0"
	if enabled {
		value = "1"
	}

	err := s.client.HSet(ctx, conversationKey(conversationID), fieldAutoReply, value).Err()
	if err != nil {
		return fmt.Errorf("failed to update auto reply of conversation %s: %w", conversationID, err)
	}

	return nil
}

// AutoReplyEnabled defaults to true for conversations never touched.
func (s *RedisStore) AutoReplyEnabled(ctx context.Context, conversationID string) (bool, error) {
	value, err := s.client.HGet(ctx, conversationKey(conversationID), fieldAutoReply).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return true, nil
		}

		return false, fmt.Errorf("failed to read auto reply of conversation %s: %w", conversationID, err)
	}

	return value != "0", nil
}

func (s *RedisStore) Department(ctx context.Context, conversationID string) (string, error) {
	value, err := s.client.HGet(ctx, conversationKey(conversationID), fieldDepartment).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("failed to read department of conversation %s: %w", conversationID, err)
	}

	return value, nil
}

// SetAddress binds a conversation to a delivery address such as "whatsapp:+5511999999999".
func (s *RedisStore) SetAddress(ctx context.Context, conversationID, address string) error {
	err := s.client.HSet(ctx, conversationKey(conversationID), fieldAddress, address).Err()
	if err != nil {
		return fmt.Errorf("failed to set address of conversation %s: %w", conversationID, err)
	}

	return nil
}

// Address falls back to the conversation id itself when no address was bound.
func (s *RedisStore) Address(ctx context.Context, conversationID string) (string, error) {
	value, err := s.client.HGet(ctx, conversationKey(conversationID), fieldAddress).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return conversationID, nil
		}

		return "", fmt.Errorf("failed to read address of conversation %s: %w", conversationID, err)
	}

	return value, nil
}
