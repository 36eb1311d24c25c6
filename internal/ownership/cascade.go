package ownership

import (
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Result summarizes one cascade.
type Result struct {
	Destroyed int
	Failed    int
}

// Cascade clears every resource owned by windowID and calls the matching
// destroyer for each id. Destroy calls run concurrently and are isolated: an
// error or panic destroying one id is logged and never prevents the others.
// Cascade returns after every destroy call has finished. A second call for the
// same window finds nothing to do.
func (x *Index) Cascade(windowID string, destroyers ...Destroyer) Result {
	taken := x.TakeAll(windowID)

	byKind := make(map[Kind]Destroyer, len(destroyers))
	for _, d := range destroyers {
		byKind[d.Kind] = d
	}

	var jobs []job
	for _, kind := range Kinds() {
		ids := taken[kind]
		if len(ids) == 0 {
			continue
		}
		d, ok := byKind[kind]
		if !ok {
			x.logger.Warn("no destroyer for resource kind; ids dropped from index",
				"window_id", windowID, "kind", string(kind), "count", len(ids))
			continue
		}
		for _, id := range ids {
			jobs = append(jobs, job{destroyer: d, id: id})
		}
	}
	return x.run(windowID, jobs)
}

// Release is the single-kind form of Cascade used by registries reacting to a
// window close on their own.
func (x *Index) Release(windowID string, d Destroyer) Result {
	ids := x.Take(windowID, d.Kind)
	jobs := make([]job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, job{destroyer: d, id: id})
	}
	return x.run(windowID, jobs)
}

type job struct {
	destroyer Destroyer
	id        string
}

func (x *Index) run(windowID string, jobs []job) Result {
	if len(jobs) == 0 {
		return Result{}
	}

	failed := make([]bool, len(jobs))
	var wg conc.WaitGroup
	for i, j := range jobs {
		wg.Go(func() {
			failed[i] = !x.destroyOne(windowID, j)
		})
	}
	wg.Wait()

	var res Result
	for _, f := range failed {
		if f {
			res.Failed++
		} else {
			res.Destroyed++
		}
	}
	if res.Failed > 0 {
		x.logger.Warn("window cascade finished with failures",
			"window_id", windowID, "destroyed", res.Destroyed, "failed", res.Failed)
	} else {
		x.logger.Debug("window cascade finished",
			"window_id", windowID, "destroyed", res.Destroyed)
	}
	return res
}

// destroyOne reports whether the resource was destroyed cleanly.
func (x *Index) destroyOne(windowID string, j job) bool {
	var err error
	recovered := panics.Try(func() {
		err = j.destroyer.Destroy(j.id)
	})
	if recovered != nil {
		x.logger.Error("destroy panicked during cascade",
			"window_id", windowID,
			"kind", string(j.destroyer.Kind),
			"resource_id", j.id,
			"panic", recovered.String())
		return false
	}
	if err != nil {
		x.logger.Warn("destroy failed during cascade",
			"window_id", windowID,
			"kind", string(j.destroyer.Kind),
			"resource_id", j.id,
			"error", err)
		return false
	}
	return true
}
