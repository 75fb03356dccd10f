package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"

	"go.etcd.io/bbolt"

	"github.com/duniter-go/node/internal/blockchain"
	"github.com/duniter-go/node/pkg/errs"
)

// tipKey is the single fixed key the blockchain namespace's tip pointer is
// stored under, alongside per-number block records, per §4.6's "blocks
// namespace also tracks the current tip".
var tipKey = []byte("__tip__")

func blockKey(n blockchain.BlockNumber) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], uint32(n))
	return k[:]
}

// BlocksStore is the bbolt-backed blockchain namespace adapter: persisted
// BlocksStore/MainChainView/PreviousBlockVersion, the same trio MainChain
// satisfies in memory (internal/blockchain/mainchain.go), so the engine is
// handed either without caring which.
type BlocksStore struct {
	ns *Namespace
}

// NewBlocksStore wraps the store's blockchain namespace as a
// blockchain.BlocksStore/MainChainView/PreviousBlockVersion.
func NewBlocksStore(s *Store) *BlocksStore {
	return &BlocksStore{ns: s.Namespace(NSBlockchain)}
}

func (b *BlocksStore) PutBlock(block *blockchain.Block, onMain bool) error {
	if !onMain {
		return nil
	}
	data, err := json.Marshal(block)
	if err != nil {
		return errs.Wrap(err, "storage: marshal block")
	}
	return b.ns.Write(func(bucket *bbolt.Bucket) error {
		return bucket.Put(blockKey(block.Number), data)
	})
}

func (b *BlocksStore) RemoveBlock(bs blockchain.Blockstamp, onMain bool) error {
	if !onMain {
		return nil
	}
	return b.ns.Write(func(bucket *bbolt.Bucket) error {
		return bucket.Delete(blockKey(bs.Number))
	})
}

func (b *BlocksStore) SetTip(bs blockchain.Blockstamp) error {
	data, err := json.Marshal(bs)
	if err != nil {
		return errs.Wrap(err, "storage: marshal tip")
	}
	return b.ns.Write(func(bucket *bbolt.Bucket) error {
		return bucket.Put(tipKey, data)
	})
}

func (b *BlocksStore) Tip() blockchain.Blockstamp {
	var bs blockchain.Blockstamp
	_ = b.ns.Read(func(bucket *bbolt.Bucket) error {
		data := bucket.Get(tipKey)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &bs)
	})
	return bs
}

func (b *BlocksStore) OnMainChain(bs blockchain.Blockstamp) bool {
	if bs.Number == 0 && bs.Hash == (blockchain.BlockHash{}) {
		return true // the implicit parent of genesis
	}
	blk, ok := b.BlockAt(bs.Number)
	return ok && blk.Blockstamp() == bs
}

func (b *BlocksStore) VersionAt(n blockchain.BlockNumber) (uint32, bool) {
	blk, ok := b.BlockAt(n)
	if !ok {
		return 0, false
	}
	return blk.Version, true
}

func (b *BlocksStore) BlockAt(n blockchain.BlockNumber) (*blockchain.Block, bool) {
	var blk *blockchain.Block
	err := b.ns.Read(func(bucket *bbolt.Bucket) error {
		data := bucket.Get(blockKey(n))
		if data == nil {
			return nil
		}
		blk = &blockchain.Block{}
		return json.Unmarshal(data, blk)
	})
	if err != nil || blk == nil {
		return nil, false
	}
	return blk, true
}

// Len returns the current tip's block number plus one, mirroring
// MainChain.Len. Returns 0 when the namespace has never been written to.
func (b *BlocksStore) Len() blockchain.BlockNumber {
	var hasTip bool
	var tip blockchain.Blockstamp
	_ = b.ns.Read(func(bucket *bbolt.Bucket) error {
		data := bucket.Get(tipKey)
		if data == nil {
			return nil
		}
		hasTip = true
		return json.Unmarshal(data, &tip)
	})
	if !hasTip {
		return 0
	}
	return tip.Number + 1
}

// Blocks iterates every persisted main-chain block in ascending number
// order, skipping the tip marker key. Used by reconciliation and dbex.
func (b *BlocksStore) Blocks(fn func(*blockchain.Block) error) error {
	return b.ns.Read(func(bucket *bbolt.Bucket) error {
		return bucket.ForEach(func(k, v []byte) error {
			if bytes.Equal(k, tipKey) {
				return nil
			}
			blk := &blockchain.Block{}
			if err := json.Unmarshal(v, blk); err != nil {
				return err
			}
			return fn(blk)
		})
	})
}
