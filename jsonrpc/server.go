package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/holiman/uint256"

	"norn/block"
	"norn/blockstore"
	"norn/interfaces"
	"norn/logx"
	"norn/transaction"
)

const (
	codeInvalidTx     = -32001
	codeRangeNotFound = -32002
	codeRejected      = -32003
)

// --- Params/Results ---

type txMsgParams struct {
	Type      int32  `json:"type"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	TextData  string `json:"text_data"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

type addTxResponse struct {
	Ok     bool   `json:"ok"`
	TxHash string `json:"tx_hash"`
}

type getTxStatusRequest struct {
	TxHash string `json:"tx_hash"`
}

type txStatusInfo struct {
	TxHash    string `json:"tx_hash"`
	Status    int32  `json:"status"`
	BlockSlot uint64 `json:"block_slot"`
	BlockHash string `json:"block_hash"`
	ErrMsg    string `json:"err_msg"`
	Pending   bool   `json:"pending"`
}

type getAccountRequest struct {
	Address string `json:"address"`
}

type getAccountResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

type blockRangeRequest struct {
	FromHeight uint64 `json:"from_height"`
	ToHeight   uint64 `json:"to_height"`
}

type blockRangeResponse struct {
	Blocks []json.RawMessage `json:"blocks"`
}

type submitBlockParams struct {
	Block json.RawMessage `json:"block"`
}

type submitBlockResponse struct {
	Ok        bool   `json:"ok"`
	BlockHash string `json:"block_hash"`
}

// Server is the JSON-RPC facade for the network gateway / client service
// boundary. Wire framing and peer management stay outside the node core.
type Server struct {
	addr     string
	txSvc    interfaces.TxService
	acctSvc  interfaces.AccountService
	chainSvc interfaces.ChainService
	health   interfaces.HealthService
	httpSrv  *http.Server
}

func NewServer(addr string, txSvc interfaces.TxService, acctSvc interfaces.AccountService, chainSvc interfaces.ChainService, health interfaces.HealthService) *Server {
	return &Server{
		addr:     addr,
		txSvc:    txSvc,
		acctSvc:  acctSvc,
		chainSvc: chainSvc,
		health:   health,
	}
}

func (s *Server) Start() error {
	methods := s.buildMethodMap()
	jh := jhttp.NewBridge(methods, &jhttp.BridgeOptions{Server: &jrpc2.ServerOptions{}})

	mux := http.NewServeMux()
	mux.Handle("/", jh)
	s.httpSrv = &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		logx.Info("JSONRPC", fmt.Sprintf("Serving on %s", s.addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Error("JSONRPC", "Server failed: ", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Build jrpc2 method map
func (s *Server) buildMethodMap() handler.Map {
	return handler.Map{
		"tx.addtx": handler.New(func(ctx context.Context, p txMsgParams) (*addTxResponse, error) {
			amount, err := uint256.FromDecimal(p.Amount)
			if err != nil {
				return nil, jrpc2.Errorf(codeInvalidTx, "invalid amount: %v", err)
			}
			tx := &transaction.Transaction{
				Type:      p.Type,
				Sender:    p.Sender,
				Recipient: p.Recipient,
				Amount:    amount,
				TextData:  p.TextData,
				Nonce:     p.Nonce,
				Signature: p.Signature,
			}
			txHash, err := s.txSvc.AddTx(tx)
			if err != nil {
				return nil, jrpc2.Errorf(codeInvalidTx, "%s", err.Error())
			}
			return &addTxResponse{Ok: true, TxHash: txHash}, nil
		}),
		"tx.gettransactionstatus": handler.New(func(ctx context.Context, p getTxStatusRequest) (*txStatusInfo, error) {
			meta, err := s.txSvc.GetTxMeta(p.TxHash)
			if err != nil {
				return nil, jrpc2.Errorf(codeInvalidTx, "%s", err.Error())
			}
			if meta == nil {
				return &txStatusInfo{TxHash: p.TxHash, Pending: true}, nil
			}
			return &txStatusInfo{
				TxHash:    meta.TxHash,
				Status:    meta.Status,
				BlockSlot: meta.Slot,
				BlockHash: meta.BlockHash,
				ErrMsg:    meta.Error,
			}, nil
		}),
		"account.getaccount": handler.New(func(ctx context.Context, p getAccountRequest) (*getAccountResponse, error) {
			acc, err := s.acctSvc.GetAccount(p.Address)
			if err != nil {
				return nil, jrpc2.Errorf(codeInvalidTx, "%s", err.Error())
			}
			if acc == nil {
				return &getAccountResponse{Address: p.Address, Balance: "0", Nonce: 0}, nil
			}
			return &getAccountResponse{
				Address: acc.Address,
				Balance: acc.Balance.Dec(),
				Nonce:   acc.Nonce,
			}, nil
		}),
		"chain.gettip": handler.New(func(ctx context.Context) (*interfaces.TipInfo, error) {
			tip := s.chainSvc.GetTip()
			return &tip, nil
		}),
		"chain.getblockrange": handler.New(func(ctx context.Context, p blockRangeRequest) (*blockRangeResponse, error) {
			blocks, err := s.chainSvc.GetBlockRange(p.FromHeight, p.ToHeight)
			if err != nil {
				if err == blockstore.ErrRangeNotFound {
					return nil, jrpc2.Errorf(codeRangeNotFound, "range [%d,%d] beyond known tip", p.FromHeight, p.ToHeight)
				}
				return nil, jrpc2.Errorf(codeRangeNotFound, "%s", err.Error())
			}
			out := make([]json.RawMessage, 0, len(blocks))
			for _, blk := range blocks {
				raw, err := json.Marshal(blk)
				if err != nil {
					return nil, jrpc2.Errorf(codeRangeNotFound, "encode block: %v", err)
				}
				out = append(out, raw)
			}
			return &blockRangeResponse{Blocks: out}, nil
		}),
		"chain.submitblock": handler.New(func(ctx context.Context, p submitBlockParams) (*submitBlockResponse, error) {
			var blk block.Block
			if err := json.Unmarshal(p.Block, &blk); err != nil {
				return nil, jrpc2.Errorf(codeRejected, "undecodable block: %v", err)
			}
			if err := s.chainSvc.SubmitBlock(ctx, &blk); err != nil {
				return nil, jrpc2.Errorf(codeRejected, "%s", err.Error())
			}
			return &submitBlockResponse{Ok: true, BlockHash: blk.BlockHash.Hex()}, nil
		}),
		"health.gethealth": handler.New(func(ctx context.Context) (*interfaces.HealthInfo, error) {
			info := s.health.GetHealth()
			return &info, nil
		}),
	}
}
