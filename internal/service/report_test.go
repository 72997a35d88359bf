package service_test

import (
	"context"
	"fmt"

	"github.com/ocrbench/pipeline/internal/service"
	"github.com/ocrbench/pipeline/internal/store"
	"github.com/ocrbench/pipeline/internal/store/storetest"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const insertDuplicateStm = "INSERT INTO duplicate_files (rel_path, file_hash, canonical_page_id, active) VALUES ('%s', '%s', %d, %t);"

var _ = Describe("report service", Ordered, func() {
	var (
		s       store.Store
		gormdb  *gorm.DB
		cleanup func()
		srv     *service.ReportService
	)

	BeforeAll(func() {
		db, _, c, err := storetest.NewDB()
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		cleanup = c
		srv = service.NewReportService(s)
	})

	AfterAll(func() {
		s.Close()
		cleanup()
	})

	BeforeEach(func() {
		Expect(gormdb.Exec(fmt.Sprintf(insertPageStm, 1, "b/p1.png", "h1", "layout_detected", false)).Error).To(BeNil())
		Expect(gormdb.Exec(fmt.Sprintf(insertPageStm, 2, "a/p2.png", "h2", "new", false)).Error).To(BeNil())
		Expect(gormdb.Exec(fmt.Sprintf(insertPageStm, 3, "c/p3.png", "h3", "new", true)).Error).To(BeNil())
		Expect(gormdb.Exec(fmt.Sprintf(insertDuplicateStm, "z/copy.png", "h1", 1, true)).Error).To(BeNil())
		Expect(gormdb.Exec(fmt.Sprintf(insertDuplicateStm, "z/old.png", "h2", 2, false)).Error).To(BeNil())
		Expect(gormdb.Exec(fmt.Sprintf(insertLayoutStm, 1, 1, 2)).Error).To(BeNil())
		Expect(gormdb.Exec(fmt.Sprintf(insertLayoutStm, 2, 1, 1)).Error).To(BeNil())
		Expect(gormdb.Exec(fmt.Sprintf(insertLayoutStm, 3, 2, 1)).Error).To(BeNil())
	})

	AfterEach(func() {
		storetest.Truncate(gormdb)
	})

	It("computes stats", func() {
		stats, err := srv.Stats(context.TODO())
		Expect(err).To(BeNil())
		Expect(stats.TotalPages).To(BeNumerically("==", 3))
		Expect(stats.MissingPages).To(BeNumerically("==", 1))
		Expect(stats.DuplicateFiles).To(BeNumerically("==", 1))
		Expect(stats.PagesByStatus).To(HaveKeyWithValue("new", BeNumerically("==", 2)))
	})

	It("lists only active duplicates with their canonical path", func() {
		listing, err := srv.Duplicates(context.TODO())
		Expect(err).To(BeNil())
		Expect(listing.Count).To(Equal(1))
		Expect(listing.Duplicates[0].DuplicateRelPath).To(Equal("z/copy.png"))
		Expect(listing.Duplicates[0].CanonicalRelPath).To(Equal("b/p1.png"))
	})

	It("exports one row per layout ordered by page path and reading order", func() {
		buf, err := srv.ExportLayouts(context.TODO())
		Expect(err).To(BeNil())

		f, err := excelize.OpenReader(buf)
		Expect(err).To(BeNil())
		defer f.Close()

		rows, err := f.GetRows("Layouts")
		Expect(err).To(BeNil())
		Expect(rows).To(HaveLen(4))
		Expect(rows[0][0]).To(Equal("Page"))
		Expect(rows[1][0]).To(Equal("a/p2.png"))
		Expect(rows[2][0]).To(Equal("b/p1.png"))
		Expect(rows[2][1]).To(Equal("1"))
		Expect(rows[3][1]).To(Equal("2"))
		Expect(rows[3][2]).To(Equal("text"))
	})
})
