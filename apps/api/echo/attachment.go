package echoapi

import (
	"io"
	"mime"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-chat/core"
	"github.com/trezcool/masomo-chat/core/attachment"
)

type attachmentApi struct {
	svc *attachment.Service
}

func registerAttachmentAPI(g *echo.Group, jwt, limit echo.MiddlewareFunc, svc *attachment.Service) {
	if svc == nil {
		return
	}
	api := attachmentApi{svc: svc}

	ag := g.Group("/uploads")
	ag.POST("", api.upload, jwt, limit)
	// keys are unguessable, which lets clients embed the url directly
	ag.GET("/:key", api.download)
}

func (api *attachmentApi) upload(ctx echo.Context) error {
	fh, err := ctx.FormFile("file")
	if err != nil {
		return core.NewFieldError("file", "this field is required")
	}
	if maxSize := api.svc.MaxSize(); maxSize > 0 && fh.Size > maxSize {
		return attachment.ErrTooLarge
	}

	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if maxSize := api.svc.MaxSize(); maxSize > 0 {
		r = io.LimitReader(f, maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "reading uploaded file")
	}

	att, err := api.svc.Upload(ctx.Request().Context(), fh.Filename, data)
	if err != nil {
		return errors.Wrap(err, "uploading attachment")
	}
	return ctx.JSON(http.StatusCreated, att)
}

func (api *attachmentApi) download(ctx echo.Context) error {
	obj, err := api.svc.Download(ctx.Request().Context(), ctx.Param("key"))
	if err != nil {
		return errors.Wrap(err, "downloading attachment")
	}
	disposition := mime.FormatMediaType("inline", map[string]string{"filename": obj.Name})
	if disposition != "" {
		ctx.Response().Header().Set("Content-Disposition", disposition)
	}
	return ctx.Blob(http.StatusOK, obj.ContentType, obj.Data)
}
