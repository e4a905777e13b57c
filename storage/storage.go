package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// Publisher delivers a change event to every session subscribed to the
// owning board. The store calls it after each confirmed mutation.
type Publisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Tables groups the table names backing the board model.
type Tables struct {
	Tasks    string
	Columns  string
	Comments string
	Boards   string
	Members  string
	Numbers  string
}

// Storage provides typed access to the backing store. Loosely-typed table
// rows never leave this package: everything is parsed into domain values at
// this boundary.
type Storage struct {
	tasks    *aztables.Client
	columns  *aztables.Client
	comments *aztables.Client
	boards   *aztables.Client
	members  *aztables.Client
	numbers  *aztables.Client

	eventsQueue queueClient
	publisher   Publisher
	logger      *log.Logger
}

// New creates a Storage instance from the given connection string. The
// events queue name is optional; when empty, change events are only
// published to the live feed and not archived.
func New(connStr string, tables Tables, eventsQueue string, pub Publisher, logger *log.Logger) (*Storage, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	tablesClientOptions := aztables.ClientOptions{
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
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	s := &Storage{
		tasks:     svc.NewClient(tables.Tasks),
		columns:   svc.NewClient(tables.Columns),
		comments:  svc.NewClient(tables.Comments),
		boards:    svc.NewClient(tables.Boards),
		members:   svc.NewClient(tables.Members),
		numbers:   svc.NewClient(tables.Numbers),
		publisher: pub,
		logger:    logger,
	}
	if eventsQueue != "" {
		queueClientOptions := azqueue.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				Retry: policy.RetryOptions{
					MaxRetries:    5,
					TryTimeout:    time.Minute * 5,
					RetryDelay:    time.Second * 1,
					MaxRetryDelay: time.Second * 60,
					StatusCodes:   []int{408, 429, 500, 502, 503, 504},
				},
			},
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, &queueClientOptions)
		if err != nil {
			return nil, err
		}
		s.eventsQueue = q
	}
	return s, nil
}

const numberKeyWidth = 8

func numberRowKey(n int) string {
	return fmt.Sprintf("%0*d", numberKeyWidth, n)
}

// defaultBoardRowKey is the per-user pointer row that makes board bootstrap
// idempotent under concurrent first-time callers.
const defaultBoardRowKey = "default"

// FetchBoardState loads everything a session needs when it opens a board.
func (s *Storage) FetchBoardState(ctx context.Context, boardID string) (domain.BoardState, error) {
	tasks, err := s.FetchTasks(ctx, boardID)
	if err != nil {
		return domain.BoardState{}, err
	}
	columns, err := s.FetchColumns(ctx, boardID)
	if err != nil {
		return domain.BoardState{}, err
	}
	comments, err := s.FetchComments(ctx, boardID)
	if err != nil {
		return domain.BoardState{}, err
	}
	return domain.BoardState{Tasks: tasks, Columns: columns, Comments: comments}, nil
}

// FetchTasks retrieves all tasks on the board.
func (s *Storage) FetchTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + boardID + "'"
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			task, err := decodeTaskEntity(raw)
			if err != nil {
				s.logger.WithError(err).Warn("skipping unparseable task row")
				continue
			}
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// FetchColumns retrieves all columns on the board, sorted by position.
func (s *Storage) FetchColumns(ctx context.Context, boardID string) ([]domain.Column, error) {
	filter := "PartitionKey eq '" + boardID + "'"
	pager := s.columns.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	columns := []domain.Column{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			col, err := decodeColumnEntity(raw)
			if err != nil {
				s.logger.WithError(err).Warn("skipping unparseable column row")
				continue
			}
			columns = append(columns, col)
		}
	}
	domain.SortColumns(columns)
	return columns, nil
}

// FetchComments retrieves all comments on the board.
func (s *Storage) FetchComments(ctx context.Context, boardID string) ([]domain.Comment, error) {
	filter := "PartitionKey eq '" + boardID + "'"
	pager := s.comments.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	comments := []domain.Comment{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			cm, err := decodeCommentEntity(raw)
			if err != nil {
				s.logger.WithError(err).Warn("skipping unparseable comment row")
				continue
			}
			comments = append(comments, cm)
		}
	}
	return comments, nil
}

// NextTaskNumber computes the next per-board display number: the highest
// claimed number plus one. This read and the claim insert in InsertTask are
// deliberately not atomic; concurrent creators race and the loser's claim
// fails with ErrConflict, which the write gateway retries a bounded number
// of times.
func (s *Storage) NextTaskNumber(ctx context.Context, boardID string) (int, error) {
	filter := "PartitionKey eq '" + boardID + "'"
	pager := s.numbers.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	max := 0
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return 0, err
		}
		for _, raw := range resp.Entities {
			var ent aztables.Entity
			if err := json.Unmarshal(raw, &ent); err != nil {
				continue
			}
			var n int
			if _, err := fmt.Sscanf(ent.RowKey, "%d", &n); err != nil {
				continue
			}
			if n > max {
				max = n
			}
		}
	}
	return max + 1, nil
}

// InsertTask claims the task's number and writes the row. A lost numbering
// race surfaces as ErrConflict before the task row is touched.
func (s *Storage) InsertTask(ctx context.Context, task domain.Task) error {
	claim := aztables.Entity{PartitionKey: task.BoardID, RowKey: numberRowKey(task.Number)}
	claimData, err := json.Marshal(claim)
	if err != nil {
		return err
	}
	if _, err := s.numbers.AddEntity(ctx, claimData, nil); err != nil {
		return classifyInsertErr(err)
	}

	data, err := encodeTaskEntity(task)
	if err != nil {
		return err
	}
	if _, err := s.tasks.AddEntity(ctx, data, nil); err != nil {
		return classifyInsertErr(err)
	}
	s.emit(ctx, domain.ChangeEvent{Table: domain.TableTasks, Op: domain.OpInsert, Board: task.BoardID}, task)
	return nil
}

// UpdateTask replaces the task row. Field updates are last-write-wins; no
// optimistic version check is used.
func (s *Storage) UpdateTask(ctx context.Context, task domain.Task) error {
	data, err := encodeTaskEntity(task)
	if err != nil {
		return err
	}
	if _, err := s.tasks.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return err
	}
	s.emit(ctx, domain.ChangeEvent{Table: domain.TableTasks, Op: domain.OpUpdate, Board: task.BoardID}, task)
	return nil
}

// DeleteTask removes a single task row. Cascading to subtasks is the write
// gateway's job; each delete emits its own feed event.
func (s *Storage) DeleteTask(ctx context.Context, boardID, taskID string) error {
	if _, err := s.tasks.DeleteEntity(ctx, boardID, taskID, nil); err != nil {
		return err
	}
	s.emit(ctx, domain.ChangeEvent{Table: domain.TableTasks, Op: domain.OpDelete, Board: boardID}, domain.DeletedRow{ID: taskID})
	return nil
}

// InsertColumn writes a new column row; a duplicate slug surfaces as
// ErrConflict.
func (s *Storage) InsertColumn(ctx context.Context, col domain.Column) error {
	data, err := encodeColumnEntity(col)
	if err != nil {
		return err
	}
	if _, err := s.columns.AddEntity(ctx, data, nil); err != nil {
		return classifyInsertErr(err)
	}
	s.emit(ctx, domain.ChangeEvent{Table: domain.TableColumns, Op: domain.OpInsert, Board: col.BoardID}, col)
	return nil
}

// UpdateColumn replaces the column row.
func (s *Storage) UpdateColumn(ctx context.Context, col domain.Column) error {
	data, err := encodeColumnEntity(col)
	if err != nil {
		return err
	}
	if _, err := s.columns.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return err
	}
	s.emit(ctx, domain.ChangeEvent{Table: domain.TableColumns, Op: domain.OpUpdate, Board: col.BoardID}, col)
	return nil
}

// DeleteColumn removes the column row.
func (s *Storage) DeleteColumn(ctx context.Context, boardID, slug string) error {
	if _, err := s.columns.DeleteEntity(ctx, boardID, slug, nil); err != nil {
		return err
	}
	s.emit(ctx, domain.ChangeEvent{Table: domain.TableColumns, Op: domain.OpDelete, Board: boardID}, domain.DeletedRow{Slug: slug})
	return nil
}

// InsertComment writes a new comment row.
func (s *Storage) InsertComment(ctx context.Context, cm domain.Comment) error {
	data, err := encodeCommentEntity(cm)
	if err != nil {
		return err
	}
	if _, err := s.comments.AddEntity(ctx, data, nil); err != nil {
		return classifyInsertErr(err)
	}
	s.emit(ctx, domain.ChangeEvent{Table: domain.TableComments, Op: domain.OpInsert, Board: cm.BoardID}, cm)
	return nil
}

// DeleteComment removes a comment row.
func (s *Storage) DeleteComment(ctx context.Context, boardID, taskID, commentID string) error {
	if _, err := s.comments.DeleteEntity(ctx, boardID, commentID, nil); err != nil {
		return err
	}
	s.emit(ctx, domain.ChangeEvent{Table: domain.TableComments, Op: domain.OpDelete, Board: boardID}, domain.DeletedRow{ID: commentID, TaskID: taskID})
	return nil
}

// GetOrCreateDefaultBoard returns the board for a user, creating board,
// owner membership and the default column set on first call. Concurrent
// first-time callers converge on one board: whoever inserts the per-user
// pointer row first wins, the loser reads the winner's board id.
func (s *Storage) GetOrCreateDefaultBoard(ctx context.Context, userID string) (string, error) {
	if boardID, ok, err := s.lookupDefaultBoard(ctx, userID); err != nil {
		return "", err
	} else if ok {
		return boardID, nil
	}

	boardID := uuid.NewString()
	pointer := defaultBoardEntity{
		Entity: aztables.Entity{PartitionKey: userID, RowKey: defaultBoardRowKey},
		Board:  boardID,
	}
	data, err := json.Marshal(pointer)
	if err != nil {
		return "", err
	}
	if _, err := s.members.AddEntity(ctx, data, nil); err != nil {
		err = classifyInsertErr(err)
		if IsConflict(err) {
			winnerID, ok, lookupErr := s.lookupDefaultBoard(ctx, userID)
			if lookupErr != nil {
				return "", lookupErr
			}
			if ok {
				return winnerID, nil
			}
		}
		return "", err
	}

	board := domain.Board{ID: boardID, Name: "My Board", CreatedAt: time.Now().UTC()}
	boardData, err := encodeBoardEntity(board)
	if err != nil {
		return "", err
	}
	if _, err := s.boards.AddEntity(ctx, boardData, nil); err != nil {
		return "", classifyInsertErr(err)
	}

	member := membershipEntity{
		Entity: aztables.Entity{PartitionKey: userID, RowKey: boardID},
		Role:   string(domain.RoleOwner),
	}
	memberData, err := json.Marshal(member)
	if err != nil {
		return "", err
	}
	if _, err := s.members.AddEntity(ctx, memberData, nil); err != nil {
		return "", classifyInsertErr(err)
	}

	for _, col := range domain.DefaultColumns(boardID) {
		if err := s.InsertColumn(ctx, col); err != nil && !IsConflict(err) {
			return "", err
		}
	}
	return boardID, nil
}

func (s *Storage) lookupDefaultBoard(ctx context.Context, userID string) (string, bool, error) {
	resp, err := s.members.GetEntity(ctx, userID, defaultBoardRowKey, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return "", false, nil
		}
		return "", false, err
	}
	var ent defaultBoardEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return "", false, err
	}
	if ent.Board == "" {
		return "", false, nil
	}
	return ent.Board, true, nil
}

// FetchMemberships lists the boards a user belongs to.
func (s *Storage) FetchMemberships(ctx context.Context, userID string) ([]domain.Membership, error) {
	filter := "PartitionKey eq '" + userID + "'"
	pager := s.members.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	memberships := []domain.Membership{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent membershipEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				s.logger.WithError(err).Warn("skipping unparseable membership row")
				continue
			}
			if ent.RowKey == defaultBoardRowKey {
				continue
			}
			memberships = append(memberships, domain.Membership{
				UserID:  ent.PartitionKey,
				BoardID: ent.RowKey,
				Role:    domain.Role(ent.Role),
			})
		}
	}
	return memberships, nil
}

// emit publishes a change event on the live feed and archives it to the
// events queue. Neither path may fail the mutation that produced the event:
// the row is already committed and the store is the source of truth.
func (s *Storage) emit(ctx context.Context, ev domain.ChangeEvent, row any) {
	data, err := json.Marshal(row)
	if err != nil {
		s.logger.WithError(err).Error("encode change event row")
		return
	}
	ev.Row = data

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.logger.WithError(err).Errorf("publish change event, table=%s, op=%s, board=%s", ev.Table, ev.Op, ev.Board)
		}
	}
	if s.eventsQueue != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.WithError(err).Error("encode change event envelope")
			return
		}
		if _, err := s.eventsQueue.EnqueueMessage(ctx, string(payload), nil); err != nil {
			s.logger.WithError(err).Error("archive change event")
		}
	}
}
