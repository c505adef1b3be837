// Package chainmodel holds the indexer-side, header-only Block model from
// spec §3 and the conversion rules from an RPC header response (spec §4.3).
package chainmodel

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/risechain/rise-indexer/internal/apperr"
)

func unmarshalHeader(data []byte, h *rpcHeader) error {
	return json.Unmarshal(data, h)
}

// TxRef is a lightweight transaction reference attached to a header-only
// block. Detail fields are nullable because only header-level data (a hash
// list) is fetched.
type TxRef struct {
	Hash             common.Hash
	TransactionIndex int
	BlockHash        common.Hash
	BlockNumber      uint64

	From     *common.Address
	To       *common.Address
	Value    *string
	Gas      *uint64
	GasPrice *string
	Input    *string
	Nonce    *uint64
}

// Block is the header-only chain block persisted by the indexer pipeline.
type Block struct {
	Number           uint64
	Hash             common.Hash
	ParentHash       common.Hash
	Timestamp        uint64
	TransactionsRoot common.Hash
	StateRoot        common.Hash
	ReceiptsRoot     common.Hash
	GasUsed          uint64
	GasLimit         uint64
	BaseFeePerGas    *string
	ExtraData        string // 0x-hex
	Miner            common.Address
	Difficulty       string // decimal string
	TotalDifficulty  *string
	Size             uint64
	TransactionCount int
	Transactions     []TxRef
}

// FilterSummary implements filterexpr.Summarizable. Indexer blocks have no
// shred concept, so shredCount is always 0; persisted is always true since a
// Block only reaches the filter after a successful store write.
func (b *Block) FilterSummary() (number, shredCount, txCount int64, persisted bool) {
	return int64(b.Number), 0, int64(b.TransactionCount), true
}

// rpcHeader mirrors the JSON shape of eth_getBlockByNumber's header form
// (transactions as a hash list), decoded via encoding/json into hexutil
// types the way go-ethereum's own RPC types do.
type rpcHeader struct {
	Number           *hexutil.Big    `json:"number"`
	Hash             *common.Hash    `json:"hash"`
	ParentHash       common.Hash     `json:"parentHash"`
	Timestamp        hexutil.Uint64  `json:"timestamp"`
	TransactionsRoot common.Hash     `json:"transactionsRoot"`
	StateRoot        common.Hash     `json:"stateRoot"`
	ReceiptsRoot     common.Hash     `json:"receiptsRoot"`
	GasUsed          hexutil.Uint64  `json:"gasUsed"`
	GasLimit         hexutil.Uint64  `json:"gasLimit"`
	BaseFeePerGas    *hexutil.Big    `json:"baseFeePerGas"`
	ExtraData        hexutil.Bytes   `json:"extraData"`
	Miner            *common.Address `json:"miner"`
	Difficulty       *hexutil.Big    `json:"difficulty"`
	TotalDifficulty  *hexutil.Big    `json:"totalDifficulty"`
	Size             hexutil.Uint64  `json:"size"`
	Transactions     []common.Hash   `json:"transactions"`
}

// FromRPCHeader applies the conversion rules from spec §4.3: a missing block
// number is a Parse error; a missing hash/author is substituted with the
// all-zero value; extra data keeps its 0x prefix; transaction entries are
// built from the hash list alone.
func FromRPCHeader(h *rpcHeader) (*Block, error) {
	if h.Number == nil {
		return nil, apperr.New(apperr.Parse, "chainmodel.FromRPCHeader", fmt.Errorf("missing block number"))
	}
	b := &Block{
		Number:           h.Number.ToInt().Uint64(),
		ParentHash:       h.ParentHash,
		Timestamp:        uint64(h.Timestamp),
		TransactionsRoot: h.TransactionsRoot,
		StateRoot:        h.StateRoot,
		ReceiptsRoot:     h.ReceiptsRoot,
		GasUsed:          uint64(h.GasUsed),
		GasLimit:         uint64(h.GasLimit),
		ExtraData:        hexutil.Encode(h.ExtraData),
		Size:             uint64(h.Size),
		TransactionCount: len(h.Transactions),
	}
	if h.Hash != nil {
		b.Hash = *h.Hash
	}
	if h.Miner != nil {
		b.Miner = *h.Miner
	}
	if h.Difficulty != nil {
		b.Difficulty = h.Difficulty.ToInt().String()
	} else {
		b.Difficulty = "0"
	}
	if h.BaseFeePerGas != nil {
		s := h.BaseFeePerGas.ToInt().String()
		b.BaseFeePerGas = &s
	}
	if h.TotalDifficulty != nil {
		s := h.TotalDifficulty.ToInt().String()
		b.TotalDifficulty = &s
	}
	b.Transactions = make([]TxRef, len(h.Transactions))
	for i, hash := range h.Transactions {
		b.Transactions[i] = TxRef{
			Hash:             hash,
			TransactionIndex: i,
			BlockHash:        b.Hash,
			BlockNumber:      b.Number,
		}
	}
	return b, nil
}

// DecodeRPCHeader is exported for the rpcclient package, which owns the
// actual JSON unmarshalling call site.
func DecodeRPCHeader(data []byte) (*Block, error) {
	if isJSONNull(data) {
		return nil, apperr.New(apperr.BlockNotFound, "chainmodel.DecodeRPCHeader", fmt.Errorf("block not found"))
	}
	var h rpcHeader
	if err := unmarshalHeader(data, &h); err != nil {
		return nil, apperr.New(apperr.Parse, "chainmodel.DecodeRPCHeader", err)
	}
	return FromRPCHeader(&h)
}

func isJSONNull(data []byte) bool {
	trimmed := make([]byte, 0, len(data))
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			trimmed = append(trimmed, b)
		}
	}
	return string(trimmed) == "null"
}
