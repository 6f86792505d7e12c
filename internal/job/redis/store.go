// Package redis implements job.Store on Redis. Every state transition that
// touches a root counter runs as one Lua script, so concurrent consumers see
// the root finish exactly once.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/gally-search/internal/job"
)

// DefaultKeyPrefix namespaces all job keys.
const DefaultKeyPrefix = "gally:jobs:"

const (
	codeNotFound = -1
	codeNotRoot  = -2
	codeSealed   = -3
)

var createRootScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing then
  return {tonumber(existing), 0}
end
local id = redis.call('INCR', KEYS[2])
redis.call('SET', KEYS[1], id)
redis.call('HSET', ARGV[1] .. tostring(id),
  'id', id, 'root_id', 0, 'name', ARGV[2], 'unique_key', ARGV[3],
  'status', 'running', 'sealed', 0, 'pending', 0,
  'created_at', ARGV[4], 'updated_at', ARGV[4])
return {id, 1}
`)

var createChildScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'root_id') ~= '0' then return -2 end
if redis.call('HGET', KEYS[1], 'sealed') == '1' then return -3 end
redis.call('HINCRBY', KEYS[1], 'pending', 1)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[4])
local id = redis.call('INCR', KEYS[2])
redis.call('HSET', ARGV[1] .. tostring(id),
  'id', id, 'root_id', ARGV[2], 'name', ARGV[3], 'unique_key', '',
  'status', 'new', 'sealed', 0, 'pending', 0,
  'created_at', ARGV[4], 'updated_at', ARGV[4])
return id
`)

var setStatusScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return -1 end
if status == 'success' then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'updated_at', ARGV[2])
return 1
`)

var completeChildScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return -1 end
if status == 'success' then return 0 end
redis.call('HSET', KEYS[1], 'status', 'success', 'updated_at', ARGV[2])
local rootKey = ARGV[1] .. redis.call('HGET', KEYS[1], 'root_id')
local pending = redis.call('HINCRBY', rootKey, 'pending', -1)
if pending <= 0 and redis.call('HGET', rootKey, 'sealed') == '1' and redis.call('HGET', rootKey, 'status') == 'running' then
  redis.call('HSET', rootKey, 'status', 'success', 'updated_at', ARGV[2])
  return 1
end
return 0
`)

var sealScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'root_id') ~= '0' then return -2 end
if redis.call('HGET', KEYS[1], 'sealed') == '1' then return 0 end
redis.call('HSET', KEYS[1], 'sealed', 1, 'updated_at', ARGV[1])
if tonumber(redis.call('HGET', KEYS[1], 'pending')) <= 0 and redis.call('HGET', KEYS[1], 'status') == 'running' then
  redis.call('HSET', KEYS[1], 'status', 'success')
  return 1
end
return 0
`)

var abandonScript = redis.NewScript(`
local key = redis.call('HGET', KEYS[1], 'unique_key')
if not key then return -1 end
redis.call('HSET', KEYS[1], 'status', 'failed', 'updated_at', ARGV[2])
local uniqueKey = ARGV[1] .. key
if redis.call('GET', uniqueKey) == redis.call('HGET', KEYS[1], 'id') then
  redis.call('DEL', uniqueKey)
end
return 1
`)

// Store implements job.Store using Redis hashes, one per job.
type Store struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewStore creates a Redis-backed job store. An empty prefix selects
// DefaultKeyPrefix.
func NewStore(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix, now: time.Now}
}

func (s *Store) seqKey() string { return s.prefix + "seq" }
func (s *Store) jobPrefix() string { return s.prefix + "job:" }
func (s *Store) uniquePrefix() string { return s.prefix + "unique:" }
func (s *Store) jobKey(id int64) string { return s.jobPrefix() + strconv.FormatInt(id, 10) }
func (s *Store) dependentsKey(id int64) string { return s.prefix + "deps:" + strconv.FormatInt(id, 10) }

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// CreateRoot claims uniqueKey and creates a running root job.
func (s *Store) CreateRoot(ctx context.Context, name, uniqueKey string) (*job.Job, bool, error) {
	res, err := createRootScript.Run(ctx, s.client,
		[]string{s.uniquePrefix() + uniqueKey, s.seqKey()},
		s.jobPrefix(), name, uniqueKey, s.timestamp(),
	).Int64Slice()
	if err != nil {
		return nil, false, fmt.Errorf("redis create root job: %w", err)
	}
	if len(res) != 2 {
		return nil, false, fmt.Errorf("redis create root job: unexpected reply %v", res)
	}

	root, err := s.Get(ctx, res[0])
	if err != nil {
		return nil, false, err
	}
	return root, res[1] == 1, nil
}

// CreateChild adds a pending child job to an unsealed root.
func (s *Store) CreateChild(ctx context.Context, rootID int64, name string) (*job.Job, error) {
	id, err := createChildScript.Run(ctx, s.client,
		[]string{s.jobKey(rootID), s.seqKey()},
		s.jobPrefix(), rootID, name, s.timestamp(),
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("redis create child job: %w", err)
	}
	if err := codeError(id, rootID); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Get loads a job by id.
func (s *Store) Get(ctx context.Context, id int64) (*job.Job, error) {
	fields, err := s.client.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("job %d: %w", id, job.ErrNotFound)
	}
	return decodeJob(fields)
}

func (s *Store) Start(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, job.StatusRunning)
}

func (s *Store) Fail(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, job.StatusFailed)
}

func (s *Store) setStatus(ctx context.Context, id int64, status job.Status) error {
	code, err := setStatusScript.Run(ctx, s.client, []string{s.jobKey(id)}, string(status), s.timestamp()).Int64()
	if err != nil {
		return fmt.Errorf("redis set job status: %w", err)
	}
	return codeError(code, id)
}

// CompleteChild marks the child as succeeded and decrements the root.
func (s *Store) CompleteChild(ctx context.Context, id int64) (bool, error) {
	code, err := completeChildScript.Run(ctx, s.client, []string{s.jobKey(id)}, s.jobPrefix(), s.timestamp()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis complete job: %w", err)
	}
	if err := codeError(code, id); err != nil {
		return false, err
	}
	return code == 1, nil
}

// Seal closes the root for new children.
func (s *Store) Seal(ctx context.Context, rootID int64) (bool, error) {
	code, err := sealScript.Run(ctx, s.client, []string{s.jobKey(rootID)}, s.timestamp()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis seal job: %w", err)
	}
	if err := codeError(code, rootID); err != nil {
		return false, err
	}
	return code == 1, nil
}

// Abandon fails the root and frees its unique key.
func (s *Store) Abandon(ctx context.Context, rootID int64) error {
	code, err := abandonScript.Run(ctx, s.client, []string{s.jobKey(rootID)}, s.uniquePrefix(), s.timestamp()).Int64()
	if err != nil {
		return fmt.Errorf("redis abandon job: %w", err)
	}
	return codeError(code, rootID)
}

// SaveDependents appends deps to the root's dependent list.
func (s *Store) SaveDependents(ctx context.Context, rootID int64, deps []job.Dependent) error {
	n, err := s.client.Exists(ctx, s.jobKey(rootID)).Result()
	if err != nil {
		return fmt.Errorf("redis check job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("root job %d: %w", rootID, job.ErrNotFound)
	}
	if len(deps) == 0 {
		return nil
	}

	values := make([]any, len(deps))
	for i, d := range deps {
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("marshal dependent: %w", err)
		}
		values[i] = data
	}
	if err := s.client.RPush(ctx, s.dependentsKey(rootID), values...).Err(); err != nil {
		return fmt.Errorf("redis save dependents: %w", err)
	}
	return nil
}

// Dependents returns the dependents of a root in insertion order.
func (s *Store) Dependents(ctx context.Context, rootID int64) ([]job.Dependent, error) {
	items, err := s.client.LRange(ctx, s.dependentsKey(rootID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load dependents: %w", err)
	}

	deps := make([]job.Dependent, 0, len(items))
	for _, item := range items {
		var d job.Dependent
		if err := json.Unmarshal([]byte(item), &d); err != nil {
			return nil, fmt.Errorf("unmarshal dependent: %w", err)
		}
		deps = append(deps, d)
	}
	return deps, nil
}

func codeError(code, id int64) error {
	switch code {
	case codeNotFound:
		return fmt.Errorf("job %d: %w", id, job.ErrNotFound)
	case codeNotRoot:
		return fmt.Errorf("job %d is not a root job", id)
	case codeSealed:
		return fmt.Errorf("job %d is sealed", id)
	}
	return nil
}

func decodeJob(fields map[string]string) (*job.Job, error) {
	var (
		j   job.Job
		err error
	)
	if j.ID, err = strconv.ParseInt(fields["id"], 10, 64); err != nil {
		return nil, fmt.Errorf("decode job id: %w", err)
	}
	if j.RootID, err = strconv.ParseInt(fields["root_id"], 10, 64); err != nil {
		return nil, fmt.Errorf("decode job %d root id: %w", j.ID, err)
	}
	if j.Pending, err = strconv.Atoi(fields["pending"]); err != nil {
		return nil, fmt.Errorf("decode job %d pending: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("decode job %d created_at: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("decode job %d updated_at: %w", j.ID, err)
	}
	j.Name = fields["name"]
	j.UniqueKey = fields["unique_key"]
	j.Status = job.Status(fields["status"])
	j.Sealed = fields["sealed"] == "1"
	return &j, nil
}
