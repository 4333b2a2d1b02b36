package attachment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-chat/core"
	"github.com/trezcool/masomo-chat/core/chat"
)

var (
	ErrEmpty    = errors.New("empty file")
	ErrTooLarge = errors.New("file too large")
	ErrNotFound = errors.New("attachment not found")
)

type (
	// Object is a stored blob along with its metadata.
	Object struct {
		Key         string
		Name        string
		ContentType string
		Size        int64
		Data        []byte
		CreatedAt   time.Time
	}

	// Store persists attachment blobs. Get returns ErrNotFound for unknown keys.
	Store interface {
		Put(ctx context.Context, obj Object) error
		Get(ctx context.Context, key string) (Object, error)
	}

	// Attachment is what a client gets back from an upload; URL goes into Message.AttachmentRef.
	Attachment struct {
		URL         string           `json:"url"`
		Key         string           `json:"key"`
		Name        string           `json:"name"`
		ContentType string           `json:"content_type"`
		MessageType chat.ContentType `json:"message_type"`
		Size        int64            `json:"size"`
	}
)

type Service struct {
	store   Store
	maxSize int64
	baseURL string
	nowFunc func() time.Time
}

func NewService(store Store, conf core.AttachmentsConfig) *Service {
	return &Service{
		store:   store,
		maxSize: conf.MaxSize,
		baseURL: strings.TrimRight(conf.BaseURL, "/"),
		nowFunc: time.Now,
	}
}

func (svc *Service) MaxSize() int64 {
	return svc.maxSize
}

// Upload stores data under a fresh key and returns the reference to attach to a message.
func (svc *Service) Upload(ctx context.Context, filename string, data []byte) (Attachment, error) {
	if len(data) == 0 {
		return Attachment{}, ErrEmpty
	}
	if svc.maxSize > 0 && int64(len(data)) > svc.maxSize {
		return Attachment{}, errors.Wrapf(ErrTooLarge, "%d bytes (max %d)", len(data), svc.maxSize)
	}

	mt := mimetype.Detect(data)
	key, err := newKey(mt.Extension())
	if err != nil {
		return Attachment{}, err
	}

	name := path.Base(strings.ReplaceAll(core.CleanString(filename), "\\", "/"))
	if name == "." || name == "/" {
		name = key
	}

	obj := Object{
		Key:         key,
		Name:        name,
		ContentType: mt.String(),
		Size:        int64(len(data)),
		Data:        data,
		CreatedAt:   svc.nowFunc().UTC(),
	}
	if err = svc.store.Put(ctx, obj); err != nil {
		return Attachment{}, errors.Wrap(err, "storing attachment")
	}

	return Attachment{
		URL:         svc.URL(key),
		Key:         key,
		Name:        name,
		ContentType: obj.ContentType,
		MessageType: messageType(mt),
		Size:        obj.Size,
	}, nil
}

func (svc *Service) Download(ctx context.Context, key string) (Object, error) {
	if key == "" || strings.ContainsAny(key, "/\\") {
		return Object{}, ErrNotFound
	}
	return svc.store.Get(ctx, key)
}

func (svc *Service) URL(key string) string {
	return svc.baseURL + "/v1/uploads/" + key
}

func messageType(mt *mimetype.MIME) chat.ContentType {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			return chat.ContentImage
		}
	}
	return chat.ContentFile
}

func newKey(ext string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "generating attachment key")
	}
	return hex.EncodeToString(b) + ext, nil
}
