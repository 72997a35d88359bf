package store

import (
	"github.com/ocrbench/pipeline/internal/store/model"
	"gorm.io/gorm"
)

type BaseQuerier struct {
	QueryFn []func(tx *gorm.DB) *gorm.DB
}

func apply(tx *gorm.DB, fns []func(tx *gorm.DB) *gorm.DB) *gorm.DB {
	for _, fn := range fns {
		tx = fn(tx)
	}
	return tx
}

type JobQueryFilter BaseQuerier

func NewJobQueryFilter() *JobQueryFilter {
	return &JobQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *JobQueryFilter) ByStage(stage string) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("stage = ?", stage)
	})
	return qf
}

func (qf *JobQueryFilter) ByState(states ...model.JobState) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("state IN ?", states)
	})
	return qf
}

func (qf *JobQueryFilter) ByEntityID(id int64) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("entity_id = ?", id)
	})
	return qf
}

func (qf *JobQueryFilter) Active() *JobQueryFilter {
	return qf.ByState(model.JobStateQueued, model.JobStateRunning)
}

type JobQueryOptions BaseQuerier

func NewJobQueryOptions() *JobQueryOptions {
	return &JobQueryOptions{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

// WithFIFOOrder sorts jobs by creation time, oldest first.
func (o *JobQueryOptions) WithFIFOOrder() *JobQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Order("created_at ASC").Order("id ASC")
	})
	return o
}

func (o *JobQueryOptions) WithStartedOrder() *JobQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Order("started_at ASC").Order("id ASC")
	})
	return o
}

func (o *JobQueryOptions) WithNewestFirst() *JobQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Order("id DESC")
	})
	return o
}

func (o *JobQueryOptions) WithLimit(limit int) *JobQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Limit(limit)
	})
	return o
}

type PageQueryFilter BaseQuerier

func NewPageQueryFilter() *PageQueryFilter {
	return &PageQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (pf *PageQueryFilter) ByStatus(status string) *PageQueryFilter {
	pf.QueryFn = append(pf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("status = ?", status)
	})
	return pf
}

func (pf *PageQueryFilter) ByMissing(missing bool) *PageQueryFilter {
	pf.QueryFn = append(pf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("is_missing = ?", missing)
	})
	return pf
}

func (pf *PageQueryFilter) ByIDs(ids []int64) *PageQueryFilter {
	pf.QueryFn = append(pf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("id IN ?", ids)
	})
	return pf
}
