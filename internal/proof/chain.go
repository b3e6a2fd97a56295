package proof

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	ErrNotFound     = errors.New("block not found")
	ErrBrokenChain  = errors.New("proof chain broken")
	ErrInvalidEntry = errors.New("invalid entry")
)

// Entry es lo que se ancla: un cambio de acceso ya persistido en el ledger.
type Entry struct {
	Kind      string    `json:"kind"`
	EntityID  string    `json:"entity_id"`
	DoctorID  string    `json:"doctor_id,omitempty"`
	PatientID string    `json:"patient_id,omitempty"`
	Scope     string    `json:"scope,omitempty"`
	Status    string    `json:"status,omitempty"`
	At        time.Time `json:"at"`
}

type Block struct {
	Index     int       `json:"index"`
	PrevHash  string    `json:"prev_hash"`
	Timestamp time.Time `json:"timestamp"`
	Entry     Entry     `json:"entry"`
	Hash      string    `json:"hash"`
}

// header es lo que entra al hash (todo menos Hash).
type header struct {
	Index     int       `json:"index"`
	PrevHash  string    `json:"prev_hash"`
	Timestamp time.Time `json:"timestamp"`
	Entry     Entry     `json:"entry"`
}

func (b Block) computeHash() string {
	data, _ := json.Marshal(header{
		Index:     b.Index,
		PrevHash:  b.PrevHash,
		Timestamp: b.Timestamp.UTC(),
		Entry:     b.Entry,
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var zeroHash = strings.Repeat("0", 64)

// Keys en LevelDB:
//   block_<index>               -> Block JSON
//   entity_<entityID>_<index>   -> index (para listar por entidad)
//   height_latest               -> último index
const (
	keyHeight    = "height_latest"
	blockPrefix  = "block_"
	entityPrefix = "entity_"
)

func blockKey(i int) []byte { return []byte(fmt.Sprintf("%s%d", blockPrefix, i)) }

func entityKey(entityID string, i int) []byte {
	return []byte(fmt.Sprintf("%s%s_%08d", entityPrefix, entityID, i))
}

// Chain es una cadena de hashes append-only sobre LevelDB. No es un ledger
// distribuido: sirve para detectar alteraciones del historial de accesos.
type Chain struct {
	mu  sync.Mutex
	db  *leveldb.DB
	now func() time.Time
}

// Open abre la cadena en path; path vacío => en memoria.
func Open(path string) (*Chain, error) {
	if strings.TrimSpace(path) == "" {
		return OpenStorage(storage.NewMemStorage())
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open proof db: %w", err)
	}
	return newChain(db)
}

func OpenStorage(stor storage.Storage) (*Chain, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, fmt.Errorf("open proof db: %w", err)
	}
	return newChain(db)
}

func newChain(db *leveldb.DB) (*Chain, error) {
	c := &Chain{db: db, now: time.Now}

	if _, ok, err := c.height(); err != nil {
		_ = db.Close()
		return nil, err
	} else if ok {
		return c, nil
	}

	genesis := Block{
		Index:     0,
		PrevHash:  zeroHash,
		Timestamp: time.Unix(0, 0).UTC(),
		Entry:     Entry{Kind: "genesis", EntityID: "genesis", At: time.Unix(0, 0).UTC()},
	}
	genesis.Hash = genesis.computeHash()
	if err := c.write(genesis); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Chain) Close() error {
	return c.db.Close()
}

// Append encadena entry al final y devuelve el bloque nuevo.
func (c *Chain) Append(entry Entry) (Block, error) {
	if strings.TrimSpace(entry.Kind) == "" || strings.TrimSpace(entry.EntityID) == "" {
		return Block{}, ErrInvalidEntry
	}
	entry.At = entry.At.UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	h, _, err := c.height()
	if err != nil {
		return Block{}, err
	}
	prev, err := c.Get(h)
	if err != nil {
		return Block{}, err
	}

	b := Block{
		Index:     prev.Index + 1,
		PrevHash:  prev.Hash,
		Timestamp: c.now().UTC(),
		Entry:     entry,
	}
	b.Hash = b.computeHash()

	if err := c.write(b); err != nil {
		return Block{}, err
	}
	return b, nil
}

func (c *Chain) write(b Block) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put(blockKey(b.Index), data)
	batch.Put(entityKey(b.Entry.EntityID, b.Index), []byte(strconv.Itoa(b.Index)))
	batch.Put([]byte(keyHeight), []byte(strconv.Itoa(b.Index)))

	if err := c.db.Write(batch, nil); err != nil {
		return fmt.Errorf("write block %d: %w", b.Index, err)
	}
	return nil
}

// Height devuelve el index del último bloque.
func (c *Chain) Height() (int, error) {
	h, _, err := c.height()
	return h, err
}

func (c *Chain) height() (int, bool, error) {
	v, err := c.db.Get([]byte(keyHeight), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	h, err := strconv.Atoi(string(v))
	if err != nil {
		return 0, false, fmt.Errorf("%w: bad height %q", ErrBrokenChain, v)
	}
	return h, true, nil
}

func (c *Chain) Get(index int) (Block, error) {
	data, err := c.db.Get(blockKey(index), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Block{}, ErrNotFound
	}
	if err != nil {
		return Block{}, err
	}
	var b Block
	if err := json.Unmarshal(data, &b); err != nil {
		return Block{}, err
	}
	return b, nil
}

// ByEntity devuelve los bloques de un request/grant en orden de cadena.
func (c *Chain) ByEntity(entityID string) ([]Block, error) {
	// el "_" final evita que "req-1" matchee "req-10"
	prefix := []byte(entityPrefix + entityID + "_")

	iter := c.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	out := make([]Block, 0)
	for iter.Next() {
		idx, err := strconv.Atoi(string(iter.Value()))
		if err != nil {
			return nil, fmt.Errorf("%w: bad entity index", ErrBrokenChain)
		}
		b, err := c.Get(idx)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// Verify recorre la cadena completa y valida hashes y enlaces.
// Devuelve la altura verificada.
func (c *Chain) Verify() (int, error) {
	h, err := c.Height()
	if err != nil {
		return 0, err
	}

	prevHash := zeroHash
	for i := 0; i <= h; i++ {
		b, err := c.Get(i)
		if err != nil {
			return 0, fmt.Errorf("%w: block %d: %v", ErrBrokenChain, i, err)
		}
		if b.PrevHash != prevHash {
			return 0, fmt.Errorf("%w: block %d prev hash mismatch", ErrBrokenChain, i)
		}
		if b.computeHash() != b.Hash {
			return 0, fmt.Errorf("%w: block %d hash mismatch", ErrBrokenChain, i)
		}
		prevHash = b.Hash
	}
	return h, nil
}
