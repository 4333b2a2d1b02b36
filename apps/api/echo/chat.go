package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-chat/core"
	"github.com/trezcool/masomo-chat/core/chat"
	"github.com/trezcool/masomo-chat/core/user"
)

type chatApi struct {
	svc      *chat.Service
	validate *validator.Validate
	metrics  *metrics
}

func registerChatAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	limit echo.MiddlewareFunc,
	svc *chat.Service,
	validate *validator.Validate,
	m *metrics,
) {
	api := chatApi{
		svc:      svc,
		validate: validate,
		metrics:  m,
	}

	cg := g.Group("/chat/rooms", jwt)
	cg.GET("", api.listRooms)
	cg.POST("", api.createRoom)

	// detail endpoints
	dg := cg.Group("/:id")
	dg.GET("", api.retrieveRoom)
	dg.GET("/messages", api.listMessages)
	dg.POST("/messages", api.sendMessage, limit)
	dg.POST("/read", api.markRead)
	dg.GET("/unread", api.unreadCount)
	dg.POST("/members", api.addMember)

	// admin endpoints
	g.GET("/chat/users/:id/rooms", api.listUserRooms, jwt, adminMiddleware(user.AdminRoles...))
}

// Handlers

func (api *chatApi) listRooms(ctx echo.Context) error {
	uid, err := contextUserID(ctx)
	if err != nil {
		return err
	}
	rooms, err := api.svc.ListRoomsForUser(ctx.Request().Context(), uid)
	if err != nil {
		return errors.Wrap(err, "listing rooms")
	}
	return ctx.JSON(http.StatusOK, rooms)
}

// listUserRooms lets admins see the rooms of any user, as that user sees them.
func (api *chatApi) listUserRooms(ctx echo.Context) error {
	rooms, err := api.svc.ListRoomsForUser(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing rooms")
	}
	return ctx.JSON(http.StatusOK, rooms)
}

func (api *chatApi) createRoom(ctx echo.Context) error {
	uid, err := contextUserID(ctx)
	if err != nil {
		return err
	}

	var data chat.NewRoom
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRoom")
	}
	data.CreatorID = uid

	if data.Type == chat.RoomPrivate {
		if err = data.Validate(api.validate); err != nil {
			return err
		}
		summary, created, err := api.svc.CreateOrGetPrivateRoom(ctx.Request().Context(), uid, data.Peer())
		if err != nil {
			return errors.Wrap(err, "creating private room")
		}
		if !created {
			api.metrics.privateRoomsReused.Inc()
			return ctx.JSON(http.StatusOK, summary)
		}
		api.metrics.roomsCreated.WithLabelValues(string(chat.RoomPrivate)).Inc()
		return ctx.JSON(http.StatusCreated, summary)
	}

	if data.Type == chat.RoomClass {
		if err = staffOnly(ctx); err != nil {
			return err
		}
	}
	summary, err := api.svc.CreateRoom(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating room")
	}
	api.metrics.roomsCreated.WithLabelValues(string(summary.Type)).Inc()
	return ctx.JSON(http.StatusCreated, summary)
}

func (api *chatApi) retrieveRoom(ctx echo.Context) error {
	uid, err := contextUserID(ctx)
	if err != nil {
		return err
	}
	summary, err := api.svc.GetRoom(ctx.Request().Context(), ctx.Param("id"), uid)
	if err != nil {
		return errors.Wrap(err, "getting room")
	}
	return ctx.JSON(http.StatusOK, summary)
}

func (api *chatApi) listMessages(ctx echo.Context) error {
	uid, err := contextUserID(ctx)
	if err != nil {
		return err
	}
	before, err := queryInt(ctx, "before")
	if err != nil {
		return err
	}
	limit, err := queryInt(ctx, "limit")
	if err != nil {
		return err
	}

	page, err := api.svc.Page(ctx.Request().Context(), ctx.Param("id"), uid, before, int(limit))
	if err != nil {
		return errors.Wrap(err, "paging messages")
	}
	return ctx.JSON(http.StatusOK, page)
}

func (api *chatApi) sendMessage(ctx echo.Context) error {
	uid, err := contextUserID(ctx)
	if err != nil {
		return err
	}

	var data chat.NewMessage
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMessage")
	}
	data.RoomID = ctx.Param("id")
	data.SenderID = uid

	msg, created, err := api.svc.Append(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "appending message")
	}
	if !created {
		return ctx.JSON(http.StatusOK, msg)
	}
	api.metrics.messagesAppended.WithLabelValues(string(msg.ContentType)).Inc()
	return ctx.JSON(http.StatusCreated, msg)
}

func (api *chatApi) markRead(ctx echo.Context) error {
	uid, err := contextUserID(ctx)
	if err != nil {
		return err
	}

	var data MarkReadRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MarkReadRequest")
	}

	cursor, err := api.svc.MarkRead(ctx.Request().Context(), ctx.Param("id"), uid, data.UptoSequence)
	if err != nil {
		return errors.Wrap(err, "marking room read")
	}
	return ctx.JSON(http.StatusOK, cursor)
}

func (api *chatApi) unreadCount(ctx echo.Context) error {
	uid, err := contextUserID(ctx)
	if err != nil {
		return err
	}
	roomID := ctx.Param("id")
	count, err := api.svc.UnreadCount(ctx.Request().Context(), roomID, uid)
	if err != nil {
		return errors.Wrap(err, "counting unread messages")
	}
	return ctx.JSON(http.StatusOK, UnreadResponse{RoomID: roomID, UnreadCount: count})
}

func (api *chatApi) addMember(ctx echo.Context) error {
	uid, err := contextUserID(ctx)
	if err != nil {
		return err
	}

	var data AddMemberRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AddMemberRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	participants, err := api.svc.AddGroupMember(ctx.Request().Context(), ctx.Param("id"), uid, data.UserID)
	if err != nil {
		return errors.Wrap(err, "adding group member")
	}
	return ctx.JSON(http.StatusCreated, participants)
}

// queryInt parses an optional integer query param; 0 when absent.
func queryInt(ctx echo.Context, name string) (int64, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, core.NewFieldError(name, "must be a positive integer")
	}
	return n, nil
}

type (
	MarkReadRequest struct {
		UptoSequence *int64 `json:"upto_sequence"`
	}

	UnreadResponse struct {
		RoomID      string `json:"room_id"`
		UnreadCount int64  `json:"unread_count"`
	}

	AddMemberRequest struct {
		UserID string `json:"user_id" validate:"required"`
	}
)

func (ar *AddMemberRequest) Validate(validate *validator.Validate) error {
	ar.UserID = core.CleanString(ar.UserID)
	return validate.Struct(ar)
}
