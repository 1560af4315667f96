package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const metaSuffix = ".meta"

// Options 控制磁盘缓存的过期时间、内存镜像与时钟。
type Options struct {
	TTL    time.Duration
	Mirror bool
	Now    func() time.Time
}

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath string, opts Options) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	store := &fileStore{
		basePath: abs,
		ttl:      opts.TTL,
		now:      now,
		locks:    make(map[string]*entryLock),
	}
	if opts.Mirror {
		store.mirror = NewMemoryMirror(opts.TTL, now)
	}
	return store, nil
}

// fileStore 通过 entryLock 避免同一文件的读写交错，同时复用 basePath。
type fileStore struct {
	basePath string
	ttl      time.Duration
	now      func() time.Time
	mirror   *MemoryMirror

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// metadata 是 .meta 旁路文件的 JSON 结构，Header 以 base64 编码保存。
// Size 与 Digest 描述配对的正文，读取时不一致即视为条目不存在。
type metadata struct {
	URL      string    `json:"url"`
	StoredAt time.Time `json:"stored_at"`
	Header   []byte    `json:"header"`
	Size     int64     `json:"size"`
	Digest   string    `json:"sha256"`
}

func (s *fileStore) Get(ctx context.Context, key Key) (*Entry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if s.mirror != nil {
		if entry, ok := s.mirror.Get(key); ok {
			return entry, nil
		}
	}

	filePath, unlock, err := s.lockEntry(key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	entry, meta, err := s.readMeta(key, filePath)
	if err != nil {
		return nil, err
	}
	if !entry.Fresh(s.now(), s.ttl) {
		return nil, ErrExpired
	}

	body, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if int64(len(body)) != meta.Size || bodyDigest(body) != meta.Digest {
		return nil, ErrNotFound
	}
	entry.Body = body
	entry.SizeBytes = int64(len(body))

	if s.mirror != nil {
		s.mirror.Set(entry)
	}
	return entry, nil
}

func (s *fileStore) Stat(ctx context.Context, key Key) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, unlock, err := s.lockEntry(key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	entry, meta, err := s.readMeta(key, filePath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.Size() != meta.Size {
		return nil, ErrNotFound
	}
	entry.SizeBytes = info.Size()
	return entry, nil
}

// Put 先把正文与元数据都写入临时文件，再依次 rename。崩溃留下的半套文件
// 会因 Size/Digest 不匹配而在读取时被忽略。
func (s *fileStore) Put(ctx context.Context, key Key, header, body []byte) (*Entry, error) {
	filePath, unlock, err := s.lockEntry(key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}

	storedAt := s.now()
	meta, err := json.Marshal(metadata{
		URL:      key.URL(),
		StoredAt: storedAt,
		Header:   header,
		Size:     int64(len(body)),
		Digest:   bodyDigest(body),
	})
	if err != nil {
		return nil, err
	}

	bodyTemp, err := writeTemp(ctx, filePath, body)
	if err != nil {
		return nil, err
	}
	metaTemp, err := writeTemp(ctx, filePath, meta)
	if err != nil {
		os.Remove(bodyTemp)
		return nil, err
	}
	if err := os.Rename(bodyTemp, filePath); err != nil {
		os.Remove(bodyTemp)
		os.Remove(metaTemp)
		return nil, err
	}
	if err := os.Rename(metaTemp, filePath+metaSuffix); err != nil {
		os.Remove(metaTemp)
		return nil, err
	}

	entry := &Entry{
		Key:       key,
		FilePath:  filePath,
		SizeBytes: int64(len(body)),
		StoredAt:  storedAt,
		Header:    append([]byte(nil), header...),
		Body:      append([]byte(nil), body...),
	}
	if s.mirror != nil {
		s.mirror.Set(entry)
	}
	return entry, nil
}

// readMeta 读取旁路文件。不同 Key 可能经路径清理后落到同一文件，
// 记录的 url 与请求 Key 不一致时按未命中处理。
func (s *fileStore) readMeta(key Key, filePath string) (*Entry, *metadata, error) {
	raw, err := os.ReadFile(filePath + metaSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, nil, fmt.Errorf("decode cache metadata %s: %w", filePath+metaSuffix, err)
	}
	if meta.URL != key.URL() {
		return nil, nil, ErrNotFound
	}

	return &Entry{
		Key:      key,
		FilePath: filePath,
		StoredAt: meta.StoredAt,
		Header:   meta.Header,
	}, &meta, nil
}

// lockEntry 以落盘路径加锁，映射到同一文件的不同 Key 共享一把锁。
func (s *fileStore) lockEntry(key Key) (string, func(), error) {
	filePath, err := s.entryPath(key)
	if err != nil {
		return "", nil, err
	}

	s.mu.Lock()
	lock := s.locks[filePath]
	if lock == nil {
		lock = &entryLock{}
		s.locks[filePath] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return filePath, func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, filePath)
		}
		s.mu.Unlock()
	}, nil
}

// entryPath 将 Key 映射为 <basePath>/<host>/<path>，根路径映射为 root。
func (s *fileStore) entryPath(key Key) (string, error) {
	host := key.Host
	if host == "" || host == "." || host == ".." || strings.ContainsAny(host, `/\`) {
		return "", fmt.Errorf("invalid cache host %q", host)
	}

	rel := path.Clean("/" + key.Path)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		rel = "root"
	}

	hostDir := filepath.Join(s.basePath, host)
	filePath := filepath.Join(hostDir, filepath.FromSlash(rel))
	if !strings.HasPrefix(filePath, hostDir+string(filepath.Separator)) {
		return "", errors.New("invalid cache path")
	}
	return filePath, nil
}

// writeTemp 把数据写入 target 同目录下的临时文件并返回其路径，由调用方 rename。
func writeTemp(ctx context.Context, target string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tempFile, err := os.CreateTemp(filepath.Dir(target), ".cache-*")
	if err != nil {
		return "", err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return "", err
	}
	return tempName, nil
}

func bodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
