package aggregation

import (
	"bytes"
	"context"
	"fmt"

	xdr "github.com/nullstyle/go-xdr/xdr3"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/spacemeshos/pose/logging"
	"github.com/spacemeshos/pose/shared"
)

var ErrNotFound = leveldb.ErrNotFound

var batchPrefix = []byte("batch/")

type sampleRecord struct {
	Leaf      []byte
	LeafIndex uint64
	Proof     [][]byte
}

// batchRecord is the XDR form of a ReceiptBatch.
type batchRecord struct {
	EpochID       uint64
	AggregatorID  []byte
	MerkleRoot    []byte
	SummaryHash   []byte
	LeafHashes    [][]byte
	Samples       []sampleRecord
	AggregatorSig []byte
}

// Store keeps built and received batches, one per (epoch, aggregator).
type Store struct {
	db *leveldb.DB
}

func OpenStore(dbPath string) (*Store, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database @ %s: %w", dbPath, err)
	}
	return &Store{db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func epochPrefix(epoch uint64) []byte {
	return append(append([]byte{}, batchPrefix...), shared.U64(epoch)...)
}

func batchKey(epoch uint64, aggregator shared.NodeID) []byte {
	return append(epochPrefix(epoch), aggregator[:]...)
}

func (s *Store) Save(ctx context.Context, batch *shared.ReceiptBatch) error {
	serialized, err := serializeBatch(batch)
	if err != nil {
		return fmt.Errorf("failed serializing batch: %w", err)
	}
	key := batchKey(batch.EpochID, batch.AggregatorID)
	if err := s.db.Put(key, serialized, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("storing batch in DB: %w", err)
	}
	logging.FromContext(ctx).Debug("stored batch",
		zap.Uint64("epoch", batch.EpochID),
		zap.String("aggregator", batch.AggregatorID.ShortString()),
	)
	return nil
}

func (s *Store) Get(ctx context.Context, epoch uint64, aggregator shared.NodeID) (*shared.ReceiptBatch, error) {
	data, err := s.db.Get(batchKey(epoch, aggregator), nil)
	if err != nil {
		return nil, fmt.Errorf("get batch of epoch %d from DB: %w", epoch, err)
	}
	return deserializeBatch(data)
}

// ListEpoch returns every batch stored for epoch, ordered by aggregator id.
func (s *Store) ListEpoch(ctx context.Context, epoch uint64) ([]*shared.ReceiptBatch, error) {
	iter := s.db.NewIterator(util.BytesPrefix(epochPrefix(epoch)), nil)
	defer iter.Release()

	var batches []*shared.ReceiptBatch
	for iter.Next() {
		batch, err := deserializeBatch(iter.Value())
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterating batches of epoch %d: %w", epoch, err)
	}
	return batches, nil
}

func serializeBatch(b *shared.ReceiptBatch) ([]byte, error) {
	rec := batchRecord{
		EpochID:       b.EpochID,
		AggregatorID:  b.AggregatorID.Bytes(),
		MerkleRoot:    b.MerkleRoot.Bytes(),
		SummaryHash:   b.SummaryHash.Bytes(),
		LeafHashes:    make([][]byte, len(b.LeafHashes)),
		Samples:       make([]sampleRecord, len(b.SampleProofs)),
		AggregatorSig: b.AggregatorSig,
	}
	for i, leaf := range b.LeafHashes {
		rec.LeafHashes[i] = leaf.Bytes()
	}
	for i, p := range b.SampleProofs {
		proof := make([][]byte, len(p.MerkleProof))
		for j, h := range p.MerkleProof {
			proof[j] = h.Bytes()
		}
		rec.Samples[i] = sampleRecord{Leaf: p.Leaf.Bytes(), LeafIndex: p.LeafIndex, Proof: proof}
	}

	var dataBuf bytes.Buffer
	if _, err := xdr.Marshal(&dataBuf, rec); err != nil {
		return nil, fmt.Errorf("serialization failure: %v", err)
	}
	return dataBuf.Bytes(), nil
}

func toHash(b []byte) (shared.Hash32, error) {
	var h shared.Hash32
	if len(b) != len(h) {
		return h, fmt.Errorf("stored hash has %d bytes", len(b))
	}
	copy(h[:], b)
	return h, nil
}

func deserializeBatch(data []byte) (*shared.ReceiptBatch, error) {
	rec := &batchRecord{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), rec); err != nil {
		return nil, fmt.Errorf("failed to deserialize: %v", err)
	}

	batch := &shared.ReceiptBatch{
		EpochID:       rec.EpochID,
		LeafHashes:    make([]shared.Hash32, len(rec.LeafHashes)),
		SampleProofs:  make([]shared.SampleProof, len(rec.Samples)),
		AggregatorSig: rec.AggregatorSig,
	}
	var err error
	if len(rec.AggregatorID) != shared.NodeIDSize {
		return nil, fmt.Errorf("stored aggregator id has %d bytes", len(rec.AggregatorID))
	}
	copy(batch.AggregatorID[:], rec.AggregatorID)
	if batch.MerkleRoot, err = toHash(rec.MerkleRoot); err != nil {
		return nil, err
	}
	if batch.SummaryHash, err = toHash(rec.SummaryHash); err != nil {
		return nil, err
	}
	for i, leaf := range rec.LeafHashes {
		if batch.LeafHashes[i], err = toHash(leaf); err != nil {
			return nil, err
		}
	}
	for i, s := range rec.Samples {
		p := shared.SampleProof{LeafIndex: s.LeafIndex, MerkleProof: make([]shared.Hash32, len(s.Proof))}
		if p.Leaf, err = toHash(s.Leaf); err != nil {
			return nil, err
		}
		for j, h := range s.Proof {
			if p.MerkleProof[j], err = toHash(h); err != nil {
				return nil, err
			}
		}
		batch.SampleProofs[i] = p
	}
	return batch, nil
}
