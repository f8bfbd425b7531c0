package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cloudx-io/blindauction/attest"
	"github.com/cloudx-io/blindauction/auction"
	"github.com/cloudx-io/blindauction/auctionapi"
	"github.com/cloudx-io/blindauction/oblivious"
)

// route decodes the discriminator and dispatches to the typed handler. It
// always returns a response value; protocol failures become error responses
// rather than dropped connections.
func (s *Server) route(raw []byte) any {
	var baseReq auctionapi.BaseRequest
	if err := json.Unmarshal(raw, &baseReq); err != nil {
		s.log.Error("failed to decode base request", zap.Error(err))
		return auctionapi.ErrorResponse{
			Type:  "error",
			Error: fmt.Sprintf("failed to decode request: %v", err),
		}
	}

	s.log.Info("received request", zap.String("request_type", baseReq.Type))

	switch baseReq.Type {
	case "ping":
		return map[string]any{
			"type":      "pong",
			"message":   "auctiond is healthy",
			"timestamp": time.Now().Unix(),
		}
	case auctionapi.TypeKeyRequest:
		return s.handleKeyRequest()
	case auctionapi.TypeSubmitBid:
		return s.handleSubmitBid(raw)
	case auctionapi.TypeRevealBid:
		return s.handleRevealBid(raw)
	case auctionapi.TypeSettle:
		return s.handleSettle(raw)
	case auctionapi.TypeGrantDecrypt:
		return s.handleGrantDecrypt(raw)
	case auctionapi.TypeIsAuthorized:
		return s.handleIsAuthorized(raw)
	case auctionapi.TypeDecryptRequest:
		return s.handleDecryptRequest(raw)
	case auctionapi.TypeDecryptCallback:
		return s.handleDecryptCallback(raw)
	case auctionapi.TypeStatus:
		return s.handleStatus()
	default:
		return auctionapi.ErrorResponse{
			Type:  "error",
			Error: fmt.Sprintf("unknown request type: %s", baseReq.Type),
		}
	}
}

// handleKeyRequest returns the sealing key and a fresh single-use bid token.
func (s *Server) handleKeyRequest() any {
	publicKeyPEM, err := s.provider.PublicKeyPEM()
	if err != nil {
		s.log.Error("key request failed", zap.Error(err))
		return auctionapi.KeyResponse{
			Type:  auctionapi.TypeKeyRequest,
			Error: fmt.Sprintf("failed to export public key: %v", err),
		}
	}
	token := s.provider.IssueBidToken()
	s.log.Info("bid token issued")
	return auctionapi.KeyResponse{
		Type:         auctionapi.TypeKeyRequest,
		Success:      true,
		PublicKeyPEM: publicKeyPEM,
		BidToken:     token,
	}
}

func (s *Server) handleSubmitBid(raw []byte) any {
	var req auctionapi.SubmitBidRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return auctionapi.SubmitBidResponse{Type: auctionapi.TypeSubmitBid, Error: fmt.Sprintf("failed to decode submit_bid request: %v", err)}
	}

	ciphertext, err := base64.StdEncoding.DecodeString(req.CiphertextBase64)
	if err != nil {
		return auctionapi.SubmitBidResponse{Type: auctionapi.TypeSubmitBid, Error: fmt.Sprintf("failed to decode ciphertext: %v", err)}
	}
	proof, err := base64.StdEncoding.DecodeString(req.ProofBase64)
	if err != nil {
		return auctionapi.SubmitBidResponse{Type: auctionapi.TypeSubmitBid, Error: fmt.Sprintf("failed to decode proof: %v", err)}
	}

	index, err := s.engine.SubmitBid(oblivious.Principal(req.Principal), ciphertext, proof)
	if err != nil {
		return auctionapi.SubmitBidResponse{Type: auctionapi.TypeSubmitBid, Error: err.Error()}
	}

	bid, _ := s.engine.BidAt(index)
	return auctionapi.SubmitBidResponse{
		Type:     auctionapi.TypeSubmitBid,
		Success:  true,
		BidIndex: int(index),
		Handle:   bid.Handle.Token(),
	}
}

func (s *Server) handleRevealBid(raw []byte) any {
	var req auctionapi.RevealBidRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return auctionapi.RevealBidResponse{Type: auctionapi.TypeRevealBid, Error: fmt.Sprintf("failed to decode reveal_bid request: %v", err)}
	}

	index, err := s.engine.RevealBid(oblivious.Principal(req.Principal))
	if err != nil {
		return auctionapi.RevealBidResponse{Type: auctionapi.TypeRevealBid, Error: err.Error()}
	}
	return auctionapi.RevealBidResponse{
		Type:     auctionapi.TypeRevealBid,
		Success:  true,
		BidIndex: int(index),
	}
}

func (s *Server) handleSettle(raw []byte) any {
	var req auctionapi.SettleRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return auctionapi.SettleResponse{Type: auctionapi.TypeSettle, Error: fmt.Sprintf("failed to decode settle request: %v", err)}
	}

	settlement, err := s.engine.Settle(oblivious.Principal(req.Principal))
	if err != nil {
		return auctionapi.SettleResponse{Type: auctionapi.TypeSettle, Error: err.Error()}
	}

	resp := auctionapi.SettleResponse{
		Type:          auctionapi.TypeSettle,
		Success:       true,
		Winner:        string(settlement.Winner),
		WinnerIndex:   int(settlement.WinnerIndex),
		WinningHandle: settlement.WinningHandle.Token(),
		BidCount:      settlement.BidCount,
		SettledAt:     uint64(settlement.SettledAt),
	}

	if s.attester != nil {
		reserve, err := s.cfg.ReserveMinorUnits()
		if err != nil {
			return auctionapi.SettleResponse{Type: auctionapi.TypeSettle, Error: fmt.Sprintf("invalid reserve configuration: %v", err)}
		}
		receipt, userData, err := attest.BuildSettlementReceipt(s.attester, attest.ReceiptParams{
			AuctionID:      s.cfg.AuctionID,
			Reserve:        reserve,
			BidDeadline:    auction.BlockHeight(s.cfg.BidDeadline),
			RevealDeadline: auction.BlockHeight(s.cfg.RevealDeadline),
			Settlement:     settlement,
			Bids:           s.engine.Bids(),
		})
		if err != nil {
			s.log.Error("settlement receipt generation failed", zap.Error(err))
			return auctionapi.SettleResponse{Type: auctionapi.TypeSettle, Error: fmt.Sprintf("settlement receipt generation failed: %v", err)}
		}
		resp.ReceiptCOSEBase64 = string(receipt.EncodeBase64())
		resp.ReceiptBidHashNonce = userData.BidHashNonce
		s.log.Info("settlement receipt generated", zap.Int("receipt_bytes", len(receipt)))
	}

	return resp
}

func (s *Server) handleGrantDecrypt(raw []byte) any {
	var req auctionapi.GrantDecryptRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return auctionapi.GrantDecryptResponse{Type: auctionapi.TypeGrantDecrypt, Error: fmt.Sprintf("failed to decode grant_decrypt request: %v", err)}
	}

	handle, err := oblivious.ParseHandle(req.Handle)
	if err != nil {
		return auctionapi.GrantDecryptResponse{Type: auctionapi.TypeGrantDecrypt, Error: err.Error()}
	}

	var expiresAt *auction.BlockHeight
	if req.ExpiryHeight != nil {
		h := auction.BlockHeight(*req.ExpiryHeight)
		expiresAt = &h
	}

	if err := s.engine.GrantDecrypt(oblivious.Principal(req.Owner), oblivious.Principal(req.Grantee), handle, expiresAt); err != nil {
		return auctionapi.GrantDecryptResponse{Type: auctionapi.TypeGrantDecrypt, Error: err.Error()}
	}
	return auctionapi.GrantDecryptResponse{Type: auctionapi.TypeGrantDecrypt, Success: true}
}

func (s *Server) handleIsAuthorized(raw []byte) any {
	var req auctionapi.IsAuthorizedRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return auctionapi.IsAuthorizedResponse{Type: auctionapi.TypeIsAuthorized, Error: fmt.Sprintf("failed to decode is_authorized request: %v", err)}
	}

	authorized := s.engine.IsAuthorized(oblivious.Principal(req.Owner), oblivious.Principal(req.Grantee))
	return auctionapi.IsAuthorizedResponse{
		Type:       auctionapi.TypeIsAuthorized,
		Success:    true,
		Authorized: authorized,
	}
}

func (s *Server) handleDecryptRequest(raw []byte) any {
	var req auctionapi.DecryptRequestRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return auctionapi.DecryptRequestResponse{Type: auctionapi.TypeDecryptRequest, Error: fmt.Sprintf("failed to decode decrypt_request: %v", err)}
	}

	handle, err := oblivious.ParseHandle(req.Handle)
	if err != nil {
		return auctionapi.DecryptRequestResponse{Type: auctionapi.TypeDecryptRequest, Error: err.Error()}
	}

	id, err := s.engine.DecryptRequest(handle, oblivious.Principal(req.Requester))
	if err != nil {
		return auctionapi.DecryptRequestResponse{Type: auctionapi.TypeDecryptRequest, Error: err.Error()}
	}
	return auctionapi.DecryptRequestResponse{
		Type:      auctionapi.TypeDecryptRequest,
		Success:   true,
		RequestID: string(id),
	}
}

func (s *Server) handleDecryptCallback(raw []byte) any {
	var req auctionapi.DecryptCallbackRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return auctionapi.DecryptCallbackResponse{Type: auctionapi.TypeDecryptCallback, Error: fmt.Sprintf("failed to decode decrypt_callback: %v", err)}
	}

	handle, err := oblivious.ParseHandle(req.Handle)
	if err != nil {
		return auctionapi.DecryptCallbackResponse{Type: auctionapi.TypeDecryptCallback, Error: err.Error()}
	}

	if err := s.engine.DecryptCallback(handle, req.Plaintext); err != nil {
		return auctionapi.DecryptCallbackResponse{Type: auctionapi.TypeDecryptCallback, Error: err.Error()}
	}
	return auctionapi.DecryptCallbackResponse{
		Type:    auctionapi.TypeDecryptCallback,
		Success: true,
		Amount:  auctionapi.FormatAmount(req.Plaintext),
	}
}

func (s *Server) handleStatus() any {
	settled := false
	if _, ok := s.engine.SettlementResult(); ok {
		settled = true
	}
	return auctionapi.StatusResponse{
		Type:             auctionapi.TypeStatus,
		Success:          true,
		AuctionID:        s.engine.AuctionID(),
		Phase:            s.engine.Phase().String(),
		Height:           uint64(s.engine.Height()),
		BidDeadline:      s.cfg.BidDeadline,
		RevealDeadline:   s.cfg.RevealDeadline,
		BidCount:         s.engine.BidCount(),
		CurrentMaxHandle: s.engine.CurrentMax().Token(),
		Settled:          settled,
	}
}
