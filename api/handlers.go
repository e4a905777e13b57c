package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/gateway"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, hub *Hub, auth Authenticator, ded Deduper, logger *log.Logger) {
	e.GET("/api/board", getDefaultBoard(store, hub, auth, logger))
	e.GET("/api/board/:id", getBoard(store, hub, auth, logger))
	e.POST("/api/board/:id/commands", postCommands(store, hub, auth, ded, logger))
	e.GET("/api/board/:id/stream", streamBoard(store, hub, auth, logger))
	e.GET("/healthz", healthz())
}

type boardResponse struct {
	BoardID  string                      `json:"boardId"`
	State    string                      `json:"state"`
	Tasks    []domain.Task               `json:"tasks"`
	Columns  []domain.Column             `json:"columns"`
	Comments map[string][]domain.Comment `json:"comments"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// errNotMember is reported when a user addresses a board they do not belong to.
var errNotMember = errors.New("not a member of this board")

func authorizeBoard(ctx context.Context, store Storage, userID, boardID string) error {
	memberships, err := store.FetchMemberships(ctx, userID)
	if err != nil {
		return err
	}
	for _, m := range memberships {
		if m.BoardID == boardID {
			return nil
		}
	}
	return errNotMember
}

func getDefaultBoard(store Storage, hub *Hub, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newBoardRequestMetrics(ctx, logger, "/api/board")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		boardID, bootErr := store.GetOrCreateDefaultBoard(ctx, userID)
		if bootErr != nil {
			metrics.SetErrorStage("bootstrap")
			c.Logger().Error(bootErr)
			err = c.String(http.StatusInternalServerError, "failed to resolve board")
			return err
		}
		metrics.SetBoardID(boardID)
		return respondWithBoard(c, ctx, hub, boardID, metrics, &err)
	}
}

func getBoard(store Storage, hub *Hub, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newBoardRequestMetrics(ctx, logger, "/api/board/:id")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		boardID := c.Param("id")
		metrics.SetBoardID(boardID)
		if authzErr := authorizeBoard(ctx, store, userID, boardID); authzErr != nil {
			if errors.Is(authzErr, errNotMember) {
				metrics.SetErrorStage("authz")
				err = c.String(http.StatusForbidden, authzErr.Error())
				return err
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(authzErr)
			err = c.String(http.StatusInternalServerError, "failed to check membership")
			return err
		}
		return respondWithBoard(c, ctx, hub, boardID, metrics, &err)
	}
}

func respondWithBoard(c echo.Context, ctx context.Context, hub *Hub, boardID string, metrics *boardRequestMetrics, errOut *error) error {
	fetchStart := time.Now()
	handle, openErr := hub.Board(ctx, boardID)
	metrics.ObserveFetch(time.Since(fetchStart))
	if openErr != nil {
		metrics.SetErrorStage("session_open")
		c.Logger().Error(openErr)
		*errOut = c.String(http.StatusInternalServerError, "failed to open board")
		return *errOut
	}

	snap := handle.Session.Snapshot()
	metrics.SetTasksReturned(len(snap.Tasks))
	resp := boardResponse{
		BoardID:  boardID,
		State:    handle.Session.State().String(),
		Tasks:    snap.Tasks,
		Columns:  snap.Columns,
		Comments: snap.Comments,
	}
	encodeStart := time.Now()
	*errOut = c.JSON(http.StatusOK, resp)
	metrics.ObserveEncode(time.Since(encodeStart))
	if *errOut != nil {
		metrics.SetErrorStage("encode_response")
	}
	return *errOut
}

func postCommands(store Storage, hub *Hub, auth Authenticator, ded Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newBoardRequestMetrics(ctx, logger, "/api/board/:id/commands")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}
		boardID := c.Param("id")
		metrics.SetBoardID(boardID)
		if authzErr := authorizeBoard(ctx, store, userID, boardID); authzErr != nil {
			if errors.Is(authzErr, errNotMember) {
				metrics.SetErrorStage("authz")
				err = c.String(http.StatusForbidden, authzErr.Error())
				return err
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(authzErr)
			err = c.String(http.StatusInternalServerError, "failed to check membership")
			return err
		}

		lr := io.LimitReader(c.Request().Body, postCommandMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		cmds := make([]domain.Command, 0, 4)
		if decErr := dec.Decode(&cmds); decErr != nil {
			metrics.SetErrorStage("decode_body")
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}
		if len(cmds) == 0 {
			err = c.JSON(http.StatusOK, postCommandsResponse{})
			return err
		}

		keys := make([]string, len(cmds))
		base := nextTimestampRange(len(cmds))
		for i := range cmds {
			if cmds[i].IdempotencyKey == "" {
				cmds[i].IdempotencyKey = uuid.NewString()
			}
			cmds[i].ID = cmds[i].IdempotencyKey
			cmds[i].Timestamp = base + int64(i)
			keys[i] = cmds[i].IdempotencyKey
		}

		fresh, dedErr := ded.AddMany(ctx, userID, keys)
		if dedErr != nil {
			metrics.SetErrorStage("deduper")
			c.Logger().Errorf("deduper: %v", dedErr)
			err = c.String(http.StatusInternalServerError, "failed to record commands")
			return err
		}

		handle, openErr := hub.Board(ctx, boardID)
		if openErr != nil {
			metrics.SetErrorStage("session_open")
			c.Logger().Error(openErr)
			err = c.String(http.StatusInternalServerError, "failed to open board")
			return err
		}

		dispatchStart := time.Now()
		results := make([]commandResult, len(cmds))
		for i, cmd := range cmds {
			results[i].IdempotencyKey = cmd.IdempotencyKey
			if !fresh[i] {
				results[i].Status = resultDuplicate
				continue
			}
			if dispatchErr := dispatchCommand(ctx, handle.Gateway, userID, cmd); dispatchErr != nil {
				results[i].Status = resultRejected
				results[i].Error = dispatchErr.Error()
				logger.WithError(dispatchErr).WithFields(log.Fields{
					"board":   boardID,
					"command": cmd.Type,
				}).Warn("command rejected")
				// free the key so the client may retry transient failures
				if !errors.Is(dispatchErr, gateway.ErrUnknownTask) && !errors.Is(dispatchErr, gateway.ErrUnknownColumn) {
					if rmErr := ded.Remove(ctx, userID, cmd.IdempotencyKey); rmErr != nil {
						logger.WithError(rmErr).Warn("failed to release idempotency key")
					}
				}
				continue
			}
			results[i].Status = resultApplied
		}
		metrics.ObserveFetch(time.Since(dispatchStart))
		metrics.SetTasksReturned(len(results))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, postCommandsResponse{Results: results})
		metrics.ObserveEncode(time.Since(encodeStart))
		return err
	}
}

// streamBoard pushes the reconciled snapshot over server-sent events. The
// client receives one frame immediately and then a frame per applied change,
// coalesced while the connection is slow.
func streamBoard(store Storage, hub *Hub, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		// EventSource cannot set headers, so the token may ride in the query
		header := c.Request().Header.Get("Authorization")
		if header == "" {
			if token := c.QueryParam("token"); token != "" {
				header = "Bearer " + token
			}
		}
		userID, err := auth.UserIDFromAuthHeader(header)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("id")
		if err := authorizeBoard(ctx, store, userID, boardID); err != nil {
			if errors.Is(err, errNotMember) {
				return c.String(http.StatusForbidden, err.Error())
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to check membership")
		}
		handle, err := hub.Board(ctx, boardID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to open board")
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		changes := handle.Session.Watch()
		defer handle.Session.Unwatch(changes)

		heartbeat := time.NewTicker(25 * time.Second)
		defer heartbeat.Stop()

		writeSnapshot := func() error {
			data, encErr := sonic.Marshal(handle.Session.Snapshot())
			if encErr != nil {
				return encErr
			}
			if _, wErr := c.Response().Write([]byte("event: board\ndata: ")); wErr != nil {
				return wErr
			}
			if _, wErr := c.Response().Write(data); wErr != nil {
				return wErr
			}
			if _, wErr := c.Response().Write([]byte("\n\n")); wErr != nil {
				return wErr
			}
			flusher.Flush()
			return nil
		}

		if err := writeSnapshot(); err != nil {
			return nil
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-changes:
				if err := writeSnapshot(); err != nil {
					return nil
				}
			case <-heartbeat.C:
				if _, err := c.Response().Write([]byte(": keepalive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}
