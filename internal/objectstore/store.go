// Package objectstore — бакеты на локальном диске с публичной раздачей и ссылками с HMAC-подписью.
package objectstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tradehub/internal/config"
	"github.com/tradehub/internal/logger"
)

var (
	ErrNotFound      = errors.New("objectstore: object not found")
	ErrBadBucket     = errors.New("objectstore: invalid bucket")
	ErrBadKey        = errors.New("objectstore: invalid key")
	ErrBlockedType   = errors.New("objectstore: file type not allowed")
	ErrTooLarge      = errors.New("objectstore: file too large")
	ErrTypeMismatch  = errors.New("objectstore: file content does not match type")
	ErrBadSignature  = errors.New("objectstore: bad signature")
	ErrExpired       = errors.New("objectstore: signed url expired")
	ErrPrivateBucket = errors.New("objectstore: bucket is not public")
)

// Блокируем только опасные расширения (исполняемые/скрипты). Остальные — разрешены.
var BlockedExt = map[string]bool{
	".exe": true, ".sh": true, ".js": true, ".bat": true, ".cmd": true,
	".php": true, ".py": true, ".rb": true,
}

var bucketName = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

// Object — метаданные сохранённого объекта.
type Object struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

type Store struct {
	dir           string
	secret        []byte
	publicBaseURL string
	public        map[string]bool
	maxSize       int64
}

func New(cfg config.StorageConfig) *Store {
	public := make(map[string]bool, len(cfg.PublicBuckets))
	for _, b := range cfg.PublicBuckets {
		public[b] = true
	}
	return &Store{
		dir:           cfg.Dir,
		secret:        []byte(cfg.SigningSecret),
		publicBaseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		public:        public,
		maxSize:       cfg.MaxUploadSize,
	}
}

func (s *Store) IsPublic(bucket string) bool { return s.public[bucket] }

func (s *Store) MaxSize() int64 { return s.maxSize }

// CleanKey проверяет ключ объекта: относительный путь без "..", сегменты не пустые.
func CleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" || strings.Contains(key, "\\") || strings.ContainsRune(key, 0) {
		return "", ErrBadKey
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", ErrBadKey
		}
	}
	return key, nil
}

func (s *Store) objectPath(bucket, key string) (string, error) {
	if !bucketName.MatchString(bucket) {
		return "", ErrBadBucket
	}
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, bucket, filepath.FromSlash(key)) + ".gz", nil
}

// Put сохраняет объект (сжатым .gz); существующий ключ перезаписывается.
func (s *Store) Put(ctx context.Context, bucket, key string, r io.Reader, contentType string) (Object, error) {
	defer logger.DeferLogDuration("objectstore.Put", time.Now())()
	dst, err := s.objectPath(bucket, key)
	if err != nil {
		return Object{}, err
	}
	key, _ = CleanKey(key)
	ext := strings.ToLower(path.Ext(key))
	if BlockedExt[ext] {
		return Object{}, ErrBlockedType
	}

	limited := r
	if s.maxSize > 0 {
		limited = io.LimitReader(r, s.maxSize+1)
	}
	head := make([]byte, 512)
	n, _ := io.ReadAtLeast(limited, head, len(head))
	head = head[:n]
	if !matchMagic(ext, head) {
		return Object{}, ErrTypeMismatch
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Object{}, fmt.Errorf("objectstore: create bucket dir: %w", err)
	}
	tmp := filepath.Join(filepath.Dir(dst), ".tmp-"+uuid.NewString())
	f, err := os.Create(tmp)
	if err != nil {
		return Object{}, fmt.Errorf("objectstore: create: %w", err)
	}
	size, err := writeCompressed(ctx, f, io.MultiReader(bytes.NewReader(head), limited))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.maxSize > 0 && size > s.maxSize {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(tmp)
		return Object{}, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return Object{}, fmt.Errorf("objectstore: rename: %w", err)
	}
	if ct := contentTypeByExt(ext); ct != "" {
		contentType = ct
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	logger.Debugf("objectstore: stored %s/%s size=%d", bucket, key, size)
	return Object{Bucket: bucket, Key: key, Size: size, ContentType: contentType}, nil
}

func writeCompressed(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	gz := gzip.NewWriter(dst)
	counter := &countingWriter{w: gz}
	if err := copyWithContext(ctx, counter, src); err != nil {
		gz.Close()
		return counter.n, err
	}
	if err := gz.Close(); err != nil {
		return counter.n, fmt.Errorf("objectstore: compress: %w", err)
	}
	return counter.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g gzipFile) Close() error {
	g.Reader.Close()
	return g.f.Close()
}

// Open открывает объект для чтения (распаковывая при отдаче).
func (s *Store) Open(bucket, key string) (io.ReadCloser, error) {
	p, err := s.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("objectstore: open: %w", err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("objectstore: read %s/%s: %w", bucket, key, err)
	}
	return gzipFile{Reader: gz, f: f}, nil
}

func escapeKey(key string) string {
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}

// PublicURL — ссылка на объект публичного бакета.
func (s *Store) PublicURL(bucket, key string) string {
	return s.publicBaseURL + "/storage/public/" + bucket + "/" + escapeKey(key)
}

// SignedURL — ссылка с ограниченным сроком действия для любого бакета.
func (s *Store) SignedURL(bucket, key string, ttl time.Duration) string {
	expires := time.Now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(bucket, key, expires))
	return s.publicBaseURL + "/storage/sign/" + bucket + "/" + escapeKey(key) + "?" + q.Encode()
}

// URL — публичная ссылка для публичного бакета, иначе подписанная на ttl.
func (s *Store) URL(bucket, key string, ttl time.Duration) string {
	if s.IsPublic(bucket) {
		return s.PublicURL(bucket, key)
	}
	return s.SignedURL(bucket, key, ttl)
}

func (s *Store) sign(bucket, key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%s\n%d", bucket, key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify проверяет подпись ссылки и срок её действия.
func (s *Store) Verify(bucket, key string, expires int64, sig string) error {
	want := s.sign(bucket, key, expires)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrBadSignature
	}
	if time.Now().Unix() > expires {
		return ErrExpired
	}
	return nil
}

func matchMagic(ext string, head []byte) bool {
	switch ext {
	case ".jpg", ".jpeg":
		return len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF
	case ".png":
		return len(head) >= 8 && bytes.Equal(head[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	case ".gif":
		return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
	case ".webp":
		return len(head) >= 12 && bytes.Equal(head[8:12], []byte("WEBP"))
	case ".pdf":
		return len(head) >= 5 && bytes.Equal(head[:5], []byte("%PDF-"))
	case ".docx":
		return len(head) >= 4 && head[0] == 0x50 && head[1] == 0x4B && (head[2] == 0x03 || head[2] == 0x05) && head[3] == 0x04
	}
	return true
}

func contentTypeByExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return ""
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("upload cancelled: %w", ctx.Err())
		default:
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read: %w", readErr)
		}
	}
}
