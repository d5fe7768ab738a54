package hints

import (
	"context"
	"crypto/rand"
	"fmt"
	"slices"
	"time"

	"Tessera/internal/roster"
	"Tessera/internal/state"
	"Tessera/internal/txn"
	"Tessera/internal/work"
)

// crsFold is the running result of applying every verified CRS delta.
type crsFold struct {
	crs          []byte   // crs is the latest verified CRS
	weight       uint64   // weight is the source weight of distinct valid contributors
	contributors []uint64 // contributors are the nodes already counted in weight
}

// AdvanceCRSWork moves the contribution pointer on window expiry, finalizes
// the ceremony once contributions end, and contributes when it is this
// node's turn.
func (c *activeController) AdvanceCRSWork(now time.Time, isActive bool) error {
	st, ok := c.store.CRSState()
	if !ok || st.Stage == state.CRSCompleted {
		return nil
	}

	if !st.HasNextContributor {
		return c.tryToFinalize(now, st)
	}

	if now.After(st.ContributionEndTime) {
		c.log.Debug("crs contribution window expired", "node", st.NextContributor)
		return c.moveToNextNode(now, st.NextContributor)
	}

	c.crsPublication = c.retryable(c.crsPublication, "crs contribution")

	if st.NextContributor == c.selfID && c.crsPublication == nil && isActive {
		c.submitUpdatedCRS(st.CRS)
	}

	return nil
}

func (c *activeController) AddCRSPublication(p state.CRSPublication, now time.Time) error {
	st, ok := c.store.CRSState()
	if !ok {
		return nil
	}

	c.verifyCRSUpdate(p, st.CRS)

	return c.moveToNextNode(now, st.NextContributor)
}

// verifyCRSUpdate chains the verification of p onto the fold. A valid delta
// replaces the CRS and adds its contributor's weight once; an invalid one
// leaves the fold unchanged.
func (c *activeController) verifyCRSUpdate(p state.CRSPublication, initial []byte) {
	prev := c.finalCRS
	if prev == nil {
		prev = work.Completed(crsFold{crs: initial})
	}

	weight := c.weights.SourceWeightOf(p.NodeID)

	c.finalCRS = work.Then(c.pool, prev, func(ctx context.Context, f crsFold) (crsFold, error) {
		if !c.lib.VerifyCRSUpdate(f.crs, p.NewCRS, p.Proof) {
			c.metrics.CRSContributions.WithLabelValues("invalid").Inc()
			return f, nil
		}

		c.metrics.CRSContributions.WithLabelValues("valid").Inc()

		next := crsFold{crs: p.NewCRS, weight: f.weight, contributors: f.contributors}
		if !slices.Contains(f.contributors, p.NodeID) {
			next.weight += weight
			next.contributors = append(slices.Clone(f.contributors), p.NodeID)
		}

		return next, nil
	})
}

// moveToNextNode hands the turn to the next source node after current, or
// ends contributions when there is none.
func (c *activeController) moveToNextNode(now time.Time, current uint64) error {
	next, ok := c.weights.NextSourceNodeAfter(current)

	end := now.Add(c.cfg.CRSUpdateContributionTime)
	if !ok {
		end = now.Add(c.cfg.CRSFinalizationDelay)
		c.log.Info("crs contributions ended", "adoption_after", end)
	}

	if err := c.store.MoveToNextContributor(next, ok, end); err != nil {
		return fmt.Errorf("move crs pointer:\n%w", err)
	}

	c.setStageMetric()

	return nil
}

// tryToFinalize adopts the folded CRS once the finalization delay passed and
// enough weight contributed, or restarts the ceremony otherwise.
func (c *activeController) tryToFinalize(now time.Time, st state.CRSState) error {
	if st.Stage == state.GatheringContributions {
		st.Stage = state.WaitingForAdoptingFinalCRS
		st.ContributionEndTime = now.Add(c.cfg.CRSFinalizationDelay)

		return c.setCRSState(st)
	}

	if !now.After(st.ContributionEndTime) {
		return nil
	}

	fold := crsFold{crs: st.CRS}
	if c.finalCRS != nil {
		if f, err := c.finalCRS.Wait(); err == nil {
			fold = f
		}
	}

	threshold := roster.MoreThanTwoThirdsOfTotal(c.weights.TotalSourceWeight())

	if fold.weight >= threshold {
		st.CRS = fold.crs
		st.Stage = state.CRSCompleted
		st.HasNextContributor = false
		st.ContributionEndTime = time.Time{}

		c.log.Info("crs completed", "weight", fold.weight, "contributors", len(fold.contributors))

		return c.setCRSState(st)
	}

	if c.crsPublication != nil {
		c.crsPublication.Abandon()
		c.crsPublication = nil
	}

	st.Stage = state.GatheringContributions
	st.NextContributor = c.weights.FirstSourceNode()
	st.HasNextContributor = true
	st.ContributionEndTime = now.Add(c.cfg.CRSUpdateContributionTime)

	c.metrics.CRSRestarts.Inc()
	c.log.Warn("crs restarted for lack of weight", "weight", fold.weight, "threshold", threshold)

	return c.setCRSState(st)
}

// submitUpdatedCRS contributes fresh entropy on top of the latest fold.
func (c *activeController) submitUpdatedCRS(current []byte) {
	prev := c.finalCRS
	if prev == nil {
		prev = work.Completed(crsFold{crs: current})
	}

	c.log.Info("contributing to crs")

	c.crsPublication = work.Then(c.pool, prev, func(ctx context.Context, f crsFold) (struct{}, error) {
		entropy := make([]byte, 32)
		if _, err := rand.Read(entropy); err != nil {
			return struct{}{}, fmt.Errorf("read entropy:\n%w", err)
		}

		next, proof, err := c.lib.UpdateCRS(f.crs, entropy)
		if err != nil {
			return struct{}{}, fmt.Errorf("update crs:\n%w", err)
		}

		return struct{}{}, c.submit.Submit(ctx, txn.CRSPublicationBody{NewCRS: next, Proof: proof})
	})
}

func (c *activeController) setCRSState(st state.CRSState) error {
	if err := c.store.SetCRSState(st); err != nil {
		return fmt.Errorf("set crs state:\n%w", err)
	}

	c.setStageMetric()

	return nil
}

func (c *activeController) setStageMetric() {
	if st, ok := c.store.CRSState(); ok {
		c.metrics.CRSStage.Set(float64(st.Stage))
	}
}
