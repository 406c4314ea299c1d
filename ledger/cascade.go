/*
cascade.go - Cascading deletes

PURPOSE:
  Removes an auction or a group together with the rows that depend on it,
  without leaving orphans.

AUCTION:
  1. every Payment with the auction's id
  2. every PaymentLog of those payments
  Deleted in the order logs → payments → auction, through CommitChunked.
  A delete of 20 payments with 35 logs is 56 mutations:
  ⌈56/limit⌉ commits. The auction delete counts toward the batch limit like
  any other mutation, so when limit divides the dependent rows exactly the
  auction goes alone in one extra final commit (55 rows at limit 5: 12).

GROUP:
  Its GroupMember rows and the group document. Auctions and payments are
  keyed by group id independently and are NOT removed.

PARTIAL FAILURE:
  Chunks are committed one after another. A failure after chunk k leaves
  chunks 1..k applied and k+1..n unattempted; the StoreError says how many
  chunks committed. Because logs go first, a partial cascade can leave
  payments without logs but never logs without payments.
*/
package ledger

import (
	"context"

	"github.com/sirupsen/logrus"
)

// AuctionDeleteResult reports what a cascade removed.
type AuctionDeleteResult struct {
	AuctionID       AuctionID
	DeletedPayments int
	DeletedLogs     int
	Batches         int
}

// GroupDeleteResult reports what a group delete removed.
type GroupDeleteResult struct {
	GroupID        GroupID
	DeletedMembers int
	Batches        int
}

// AuctionCascade lists the mutations that delete an auction and its dependents,
// in commit order.
func AuctionCascade(id AuctionID, payments []Payment, logs []PaymentLog) []Mutation {
	mutations := make([]Mutation, 0, len(logs)+len(payments)+1)
	for _, l := range logs {
		mutations = append(mutations, DeletePaymentLog(l.ID))
	}
	for _, p := range payments {
		mutations = append(mutations, DeletePayment(p.ID))
	}
	return append(mutations, DeleteAuction(id))
}

// DeleteAuction removes an auction, its payments and their logs.
func (s *Service) DeleteAuction(ctx context.Context, id AuctionID) (AuctionDeleteResult, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return AuctionDeleteResult{}, err
	}
	if _, err := s.store.GetAuction(ctx, account, id); err != nil {
		return AuctionDeleteResult{}, notFound(err, "auction", string(id))
	}
	payments, err := s.store.ListPayments(ctx, account, PaymentFilter{AuctionID: id})
	if err != nil {
		return AuctionDeleteResult{}, err
	}
	var logs []PaymentLog
	for _, p := range payments {
		pl, err := s.store.ListPaymentLogs(ctx, account, LogFilter{PaymentID: p.ID})
		if err != nil {
			return AuctionDeleteResult{}, err
		}
		logs = append(logs, pl...)
	}

	mutations := AuctionCascade(id, payments, logs)
	report, err := CommitChunked(ctx, s.store, account, mutations, s.batchLimit)
	if err != nil {
		s.logger(account).WithFields(logrus.Fields{
			"auction_id": id,
			"committed":  report.Chunks,
			"planned":    ChunkCount(len(mutations), s.batchLimit),
		}).WithError(err).Error("auction cascade stopped part way")
		return AuctionDeleteResult{}, &StoreError{Op: "delete_auction", EntityID: string(id), Committed: report.Chunks, Unit: "chunks", Err: err}
	}

	s.logger(account).WithFields(logrus.Fields{
		"auction_id": id,
		"payments":   len(payments),
		"logs":       len(logs),
		"batches":    report.Chunks,
	}).Info("auction deleted")
	return AuctionDeleteResult{
		AuctionID:       id,
		DeletedPayments: len(payments),
		DeletedLogs:     len(logs),
		Batches:         report.Chunks,
	}, nil
}

// DeleteGroup removes a group and its memberships. When they fit in one batch
// the delete is atomic; larger groups are chunked with the group document last.
func (s *Service) DeleteGroup(ctx context.Context, id GroupID) (GroupDeleteResult, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return GroupDeleteResult{}, err
	}
	if _, err := s.store.GetGroup(ctx, account, id); err != nil {
		return GroupDeleteResult{}, notFound(err, "group", string(id))
	}
	members, err := s.store.ListMembers(ctx, account, MemberFilter{GroupID: id})
	if err != nil {
		return GroupDeleteResult{}, err
	}

	mutations := make([]Mutation, 0, len(members)+1)
	for _, m := range members {
		mutations = append(mutations, DeleteMember(m.ID))
	}
	mutations = append(mutations, DeleteGroup(id))

	report, err := CommitChunked(ctx, s.store, account, mutations, s.batchLimit)
	if err != nil {
		s.logger(account).WithFields(logrus.Fields{
			"group_id":  id,
			"committed": report.Chunks,
		}).WithError(err).Error("group delete failed")
		return GroupDeleteResult{}, &StoreError{Op: "delete_group", EntityID: string(id), Committed: report.Chunks, Unit: "chunks", Err: err}
	}

	s.logger(account).WithFields(logrus.Fields{
		"group_id": id,
		"members":  len(members),
	}).Info("group deleted")
	return GroupDeleteResult{GroupID: id, DeletedMembers: len(members), Batches: report.Chunks}, nil
}
