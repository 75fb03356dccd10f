package blockchain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/duniter-go/node/pkg/errs"
)

var chunkFileRe = regexp.MustCompile(`^chunk_(\d+)-250\.json$`)

// wireBlock mirrors the JSON shape §6 specifies for sync chunk files.
// Hex-encoded fields decode into the engine's fixed-size types.
type wireBlock struct {
	Version         uint32            `json:"version"`
	Nonce           string            `json:"nonce"`
	Number          uint32            `json:"number"`
	Time            int64             `json:"time"`
	MedianTime      int64             `json:"medianTime"`
	MembersCount    uint32            `json:"membersCount"`
	MonetaryMass    uint64            `json:"monetaryMass"`
	UnitBase        uint32            `json:"unitbase"`
	IssuersCount    uint32            `json:"issuersCount"`
	IssuersFrame    uint32            `json:"issuersFrame"`
	IssuersFrameVar int32             `json:"issuersFrameVar"`
	Currency        string            `json:"currency"`
	Issuer          string            `json:"issuer"`
	Signature       string            `json:"signature"`
	Hash            string            `json:"hash"`
	PreviousHash    string            `json:"previousHash"`
	PreviousIssuer  string            `json:"previousIssuer"`
	InnerHash       string            `json:"inner_hash"`
	Dividend        uint64            `json:"dividend"`
	Identities      []wireIdentity    `json:"identities"`
	Certifications  []wireCertification `json:"certifications"`
}

type wireIdentity struct {
	PublicKey string `json:"pubkey"`
	UID       string `json:"uid"`
}

type wireCertification struct {
	From        string `json:"pubkey_from"`
	To          string `json:"pubkey_to"`
	BlockNumber uint32 `json:"block_number"`
}

type wireChunk struct {
	Blocks []wireBlock `json:"blocks"`
}

// FileChunkSource reads sync chunks from a directory of
// chunk_<N>-250.json files, per §6's "Sync file format".
type FileChunkSource struct {
	dir string
}

func NewFileChunkSource(dir string) *FileChunkSource { return &FileChunkSource{dir: dir} }

func (f *FileChunkSource) ChunkNumbers() ([]int, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, errs.Wrapf(err, "reading sync directory %q", f.dir)
	}
	var numbers []int
	for _, e := range entries {
		m := chunkFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		numbers = append(numbers, n)
	}
	return numbers, nil
}

func (f *FileChunkSource) ReadChunk(n int) ([]*Block, error) {
	path := filepath.Join(f.dir, fmt.Sprintf("chunk_%d-250.json", n))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrapf(err, "reading chunk file %q", path)
	}
	var chunk wireChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, errs.Wrapf(err, "parsing chunk file %q", path)
	}
	blocks := make([]*Block, 0, len(chunk.Blocks))
	for _, wb := range chunk.Blocks {
		b, err := decodeWireBlock(wb)
		if err != nil {
			return nil, errs.Wrapf(err, "decoding block %d in chunk %q", wb.Number, path)
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func decodeWireBlock(wb wireBlock) (*Block, error) {
	issuer, err := decodeHexKey(wb.Issuer)
	if err != nil {
		return nil, err
	}
	prevIssuer, err := decodeHexKey(wb.PreviousIssuer)
	if err != nil {
		return nil, err
	}
	hash, err := decodeHexHash(wb.Hash)
	if err != nil {
		return nil, err
	}
	innerHash, err := decodeHexHash(wb.InnerHash)
	if err != nil {
		return nil, err
	}
	prevHash, err := decodeHexHash(wb.PreviousHash)
	if err != nil {
		return nil, err
	}
	sig, err := hex.DecodeString(wb.Signature)
	if err != nil {
		return nil, errs.Wrap(err, "decoding signature")
	}

	b := &Block{
		Version:         wb.Version,
		Number:          BlockNumber(wb.Number),
		Currency:        wb.Currency,
		Time:            wb.Time,
		MedianTime:      wb.MedianTime,
		Issuer:          issuer,
		Signature:       sig,
		PreviousHash:    prevHash,
		PreviousIssuer:  prevIssuer,
		InnerHash:       innerHash,
		Hash:            hash,
		Nonce:           wb.Nonce,
		DividendAmount:  wb.Dividend,
		UnitBase:        wb.UnitBase,
		IssuersCount:    wb.IssuersCount,
		IssuersFrame:    wb.IssuersFrame,
		IssuersFrameVar: wb.IssuersFrameVar,
		MembersCount:    wb.MembersCount,
		MonetaryMass:    wb.MonetaryMass,
	}
	for _, wi := range wb.Identities {
		pk, err := decodeHexKey(wi.PublicKey)
		if err != nil {
			return nil, err
		}
		b.Identities = append(b.Identities, IdentityDoc{PublicKey: pk, UID: wi.UID})
	}
	for _, wc := range wb.Certifications {
		from, err := decodeHexKey(wc.From)
		if err != nil {
			return nil, err
		}
		to, err := decodeHexKey(wc.To)
		if err != nil {
			return nil, err
		}
		b.Certifications = append(b.Certifications, CertificationDoc{From: from, To: to, BlockNumber: BlockNumber(wc.BlockNumber)})
	}
	return b, nil
}

func decodeHexKey(s string) (PublicKey, error) {
	var pk PublicKey
	if s == "" {
		return pk, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return pk, errs.Wrapf(err, "decoding public key %q", s)
	}
	copy(pk[:], raw)
	return pk, nil
}

func decodeHexHash(s string) (BlockHash, error) {
	var h BlockHash
	if s == "" {
		return h, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, errs.Wrapf(err, "decoding hash %q", s)
	}
	copy(h[:], raw)
	return h, nil
}
