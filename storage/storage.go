package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"taskdeck-api/domain"
)

const (
	taskRowPrefix       = "t_"
	completionRowPrefix = "c_"
	// The '~' sentinel sorts after every character used in row keys.
	rangeEnd = "~"

	// Entity-group transactions accept at most 100 actions.
	maxBatch = 100
)

// Store persists tasks and completion records in a single table. All rows of
// one user share a partition, so a task row and its completion log can change
// in one entity-group transaction.
type Store struct {
	table *aztables.Client
}

// New creates a Store from the given connection string.
func New(connStr, tableName string) (*Store, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Store{table: svc.NewClient(tableName)}, nil
}

type taskEntity struct {
	aztables.Entity
	Title          string `json:"Title"`
	Description    string `json:"Description"`
	Status         string `json:"Status"`
	Priority       string `json:"Priority"`
	Tags           string `json:"Tags"`
	DueDate        string `json:"DueDate"`
	ReminderOffset string `json:"ReminderOffset"`
	IsRecurring    bool   `json:"IsRecurring"`
	Recurrence     string `json:"Recurrence"`
	CreatedAt      string `json:"CreatedAt"`
	UpdatedAt      string `json:"UpdatedAt"`
	CompletedAt    string `json:"CompletedAt"`
}

type completionEntity struct {
	aztables.Entity
	TaskID      string `json:"TaskID"`
	CompletedAt string `json:"CompletedAt"`
	CompletedBy string `json:"CompletedBy"`
}

func taskRowKey(taskID string) string { return taskRowPrefix + taskID }

func completionRowKey(taskID, recID string) string {
	return completionRowPrefix + taskID + "_" + recID
}

func encodeTask(userID string, t domain.Task) ([]byte, error) {
	ent := taskEntity{
		Entity:         aztables.Entity{PartitionKey: userID, RowKey: taskRowKey(t.ID)},
		Title:          t.Title,
		Description:    t.Description,
		Status:         string(t.Status),
		Priority:       string(t.Priority),
		DueDate:        encodeTime(t.DueDate),
		ReminderOffset: string(t.ReminderOffset),
		IsRecurring:    t.IsRecurring,
		CreatedAt:      t.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:      t.UpdatedAt.Format(time.RFC3339Nano),
		CompletedAt:    encodeTime(t.CompletedAt),
	}
	if len(t.Tags) > 0 {
		raw, err := json.Marshal(t.Tags)
		if err != nil {
			return nil, err
		}
		ent.Tags = string(raw)
	}
	if t.RecurrencePattern != nil {
		raw, err := json.Marshal(t.RecurrencePattern)
		if err != nil {
			return nil, err
		}
		ent.Recurrence = string(raw)
	}
	return json.Marshal(ent)
}

func decodeTask(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:             strings.TrimPrefix(ent.RowKey, taskRowPrefix),
		Title:          ent.Title,
		Description:    ent.Description,
		Status:         domain.TaskStatus(ent.Status),
		Priority:       domain.TaskPriority(ent.Priority),
		ReminderOffset: domain.ReminderOffset(ent.ReminderOffset),
		IsRecurring:    ent.IsRecurring,
	}
	var err error
	if t.DueDate, err = decodeTimePtr(ent.DueDate); err != nil {
		return domain.Task{}, err
	}
	if t.CompletedAt, err = decodeTimePtr(ent.CompletedAt); err != nil {
		return domain.Task{}, err
	}
	if t.CreatedAt, err = decodeTime(ent.CreatedAt); err != nil {
		return domain.Task{}, err
	}
	if t.UpdatedAt, err = decodeTime(ent.UpdatedAt); err != nil {
		return domain.Task{}, err
	}
	if ent.Tags != "" {
		if err := json.Unmarshal([]byte(ent.Tags), &t.Tags); err != nil {
			return domain.Task{}, err
		}
	}
	if ent.Recurrence != "" {
		var p domain.RecurrencePattern
		if err := json.Unmarshal([]byte(ent.Recurrence), &p); err != nil {
			return domain.Task{}, err
		}
		t.RecurrencePattern = &p
	}
	return t, nil
}

func encodeCompletion(userID string, rec domain.CompletionRecord) ([]byte, error) {
	ent := completionEntity{
		Entity:      aztables.Entity{PartitionKey: userID, RowKey: completionRowKey(rec.TaskID, rec.ID)},
		TaskID:      rec.TaskID,
		CompletedAt: rec.CompletedAt.Format(time.RFC3339Nano),
		CompletedBy: rec.CompletedBy,
	}
	return json.Marshal(ent)
}

func decodeCompletion(data []byte) (domain.CompletionRecord, error) {
	var ent completionEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.CompletionRecord{}, err
	}
	at, err := decodeTime(ent.CompletedAt)
	if err != nil {
		return domain.CompletionRecord{}, err
	}
	return domain.CompletionRecord{
		ID:          strings.TrimPrefix(ent.RowKey, completionRowPrefix+ent.TaskID+"_"),
		TaskID:      ent.TaskID,
		CompletedAt: at,
		CompletedBy: ent.CompletedBy,
	}, nil
}

func encodeTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func decodeTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func decodeTimePtr(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// quoteOData escapes a string literal for an OData filter.
func quoteOData(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func rowRangeFilter(userID, prefix string) string {
	return "PartitionKey eq " + quoteOData(userID) +
		" and RowKey ge " + quoteOData(prefix) +
		" and RowKey lt " + quoteOData(prefix+rangeEnd)
}

// GetTask fetches one task row together with its ETag.
func (s *Store) GetTask(ctx context.Context, userID, taskID string) (*domain.StoredTask, error) {
	resp, err := s.table.GetEntity(ctx, userID, taskRowKey(taskID), nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}
	t, err := decodeTask(resp.Value)
	if err != nil {
		return nil, err
	}
	return &domain.StoredTask{Task: t, ETag: string(resp.ETag)}, nil
}

// ListTasks scans the user's task rows.
func (s *Store) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	filter := rowRangeFilter(userID, taskRowPrefix)
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTask(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

func (s *Store) InsertTask(ctx context.Context, userID string, t domain.Task) error {
	data, err := encodeTask(userID, t)
	if err != nil {
		return err
	}
	_, err = s.table.AddEntity(ctx, data, nil)
	return mapWriteErr(err)
}

func (s *Store) UpdateTask(ctx context.Context, userID string, t domain.Task, etag string) error {
	data, err := encodeTask(userID, t)
	if err != nil {
		return err
	}
	match := azcore.ETag(etag)
	_, err = s.table.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{
		IfMatch:    &match,
		UpdateMode: aztables.UpdateModeReplace,
	})
	return mapWriteErr(err)
}

// ApplyCompletion commits the task transition and the record append as one
// entity-group transaction guarded by the task's ETag, so concurrent
// completions of the same observed state resolve to a single winner.
func (s *Store) ApplyCompletion(ctx context.Context, userID string, t domain.Task, etag string, rec domain.CompletionRecord) error {
	taskData, err := encodeTask(userID, t)
	if err != nil {
		return err
	}
	recData, err := encodeCompletion(userID, rec)
	if err != nil {
		return err
	}
	match := azcore.ETag(etag)
	actions := []aztables.TransactionAction{
		{ActionType: aztables.TransactionTypeUpdateReplace, Entity: taskData, IfMatch: &match},
		{ActionType: aztables.TransactionTypeAdd, Entity: recData},
	}
	_, err = s.table.SubmitTransaction(ctx, actions, nil)
	return mapWriteErr(err)
}

// DeleteTask removes the task row and cascades to its completion rows.
func (s *Store) DeleteTask(ctx context.Context, userID, taskID string) error {
	rowKeys, err := s.completionRowKeys(ctx, userID, taskID)
	if err != nil {
		return err
	}
	rowKeys = append(rowKeys, taskRowKey(taskID))

	unconditional := azcore.ETag("*")
	for start := 0; start < len(rowKeys); start += maxBatch {
		end := start + maxBatch
		if end > len(rowKeys) {
			end = len(rowKeys)
		}
		actions := make([]aztables.TransactionAction, 0, end-start)
		for _, rk := range rowKeys[start:end] {
			data, err := json.Marshal(aztables.Entity{PartitionKey: userID, RowKey: rk})
			if err != nil {
				return err
			}
			actions = append(actions, aztables.TransactionAction{
				ActionType: aztables.TransactionTypeDelete,
				Entity:     data,
				IfMatch:    &unconditional,
			})
		}
		if _, err := s.table.SubmitTransaction(ctx, actions, nil); err != nil {
			return mapWriteErr(err)
		}
	}
	return nil
}

func (s *Store) completionRowKeys(ctx context.Context, userID, taskID string) ([]string, error) {
	filter := rowRangeFilter(userID, completionRowPrefix+taskID+"_")
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var keys []string
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent aztables.Entity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			keys = append(keys, ent.RowKey)
		}
	}
	return keys, nil
}

// ListCompletions returns the task's completion rows, oldest first.
func (s *Store) ListCompletions(ctx context.Context, userID, taskID string) ([]domain.CompletionRecord, error) {
	filter := rowRangeFilter(userID, completionRowPrefix+taskID+"_")
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var recs []domain.CompletionRecord
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			rec, err := decodeCompletion(e)
			if err != nil {
				return nil, err
			}
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CompletedAt.Before(recs[j].CompletedAt) })
	return recs, nil
}

func isStatus(err error, status int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == status
}

func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	if isStatus(err, http.StatusPreconditionFailed) || isStatus(err, http.StatusConflict) {
		return domain.ErrConflict
	}
	if isStatus(err, http.StatusNotFound) {
		return domain.ErrNotFound
	}
	return err
}
