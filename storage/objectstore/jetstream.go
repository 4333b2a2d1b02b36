package objectstore

import (
	"bytes"
	"context"
	"io"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-chat/core/attachment"
)

const (
	headerContentType = "Content-Type"
	headerFilename    = "X-Filename"
	headerCreatedAt   = "X-Created-At"
)

// JetStreamStore keeps attachments in a NATS JetStream object store bucket.
type JetStreamStore struct {
	conn  *nats.Conn
	store jetstream.ObjectStore
}

var _ attachment.Store = (*JetStreamStore)(nil)

// NewJetStreamStore connects to natsURL and opens bucket, creating it if it does not exist.
func NewJetStreamStore(ctx context.Context, natsURL, bucket string) (*JetStreamStore, error) {
	conn, err := nats.Connect(natsURL, nats.Name("masomo-chat"))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to nats")
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "creating jetstream context")
	}

	store, err := js.ObjectStore(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		store, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "chat attachments",
		})
	}
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "opening object store %q", bucket)
	}
	return &JetStreamStore{conn: conn, store: store}, nil
}

func (s *JetStreamStore) Put(ctx context.Context, obj attachment.Object) error {
	meta := jetstream.ObjectMeta{
		Name: obj.Key,
		Headers: nats.Header{
			headerContentType: []string{obj.ContentType},
			headerFilename:    []string{obj.Name},
			headerCreatedAt:   []string{strconv.FormatInt(obj.CreatedAt.UnixMilli(), 10)},
		},
	}
	if _, err := s.store.Put(ctx, meta, bytes.NewReader(obj.Data)); err != nil {
		return errors.Wrap(err, "putting object")
	}
	return nil
}

func (s *JetStreamStore) Get(ctx context.Context, key string) (attachment.Object, error) {
	res, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return attachment.Object{}, attachment.ErrNotFound
		}
		return attachment.Object{}, errors.Wrap(err, "getting object")
	}
	defer func() { _ = res.Close() }()

	data, err := io.ReadAll(res)
	if err != nil {
		return attachment.Object{}, errors.Wrap(err, "reading object")
	}
	info, err := res.Info()
	if err != nil {
		return attachment.Object{}, errors.Wrap(err, "reading object info")
	}

	obj := attachment.Object{
		Key:         key,
		Name:        key,
		ContentType: "application/octet-stream",
		Size:        int64(info.Size),
		Data:        data,
		CreatedAt:   info.ModTime.UTC(),
	}
	if info.Headers != nil {
		if ct := info.Headers.Get(headerContentType); ct != "" {
			obj.ContentType = ct
		}
		if name := info.Headers.Get(headerFilename); name != "" {
			obj.Name = name
		}
	}
	return obj, nil
}

func (s *JetStreamStore) Close() {
	s.conn.Close()
}
