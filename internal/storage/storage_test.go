package storage

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestStorage(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Storage Suite")
}

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage *LocalStorage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "uploads"))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewLocalStorage", func() {
		It("creates the directory", func() {
			info, err := os.Stat(filepath.Join(tmpDir, "uploads"))
			Expect(err).NotTo(HaveOccurred())
			Expect(info.IsDir()).To(BeTrue())
		})
	})

	Describe("Save and Get", func() {
		It("round-trips the data", func() {
			key, err := storage.Save("receipt.jpg", []byte("image bytes"))
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(Equal("receipt.jpg"))

			data, err := storage.Get(key)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("image bytes"))
		})

		It("returns an error for a missing key", func() {
			_, err := storage.Get("missing.jpg")
			Expect(err).To(HaveOccurred())
		})

		It("rejects keys outside the directory", func() {
			_, err := storage.Save("../escape.jpg", []byte("x"))
			Expect(err).To(MatchError(ErrInvalidKey))
		})

		It("rejects an empty key", func() {
			_, err := storage.Get("")
			Expect(err).To(MatchError(ErrInvalidKey))
		})
	})

	Describe("Delete", func() {
		It("removes the file", func() {
			_, err := storage.Save("gone.png", []byte("x"))
			Expect(err).NotTo(HaveOccurred())
			Expect(storage.Delete("gone.png")).To(Succeed())
			_, err = storage.Get("gone.png")
			Expect(err).To(HaveOccurred())
		})

		It("returns an error when the file does not exist", func() {
			Expect(storage.Delete("nope.png")).NotTo(Succeed())
		})
	})
})

var _ = Describe("SanitizeFilename", func() {
	DescribeTable("cleans phone filenames",
		func(input, expected string) {
			Expect(SanitizeFilename(input)).To(Equal(expected))
		},
		Entry("keeps simple names", "bill.jpg", "bill.jpg"),
		Entry("strips special characters", "IMG_2024(1)!.JPG", "IMG_20241.jpg"),
		Entry("collapses whitespace", "my   dinner  bill.png", "my dinner bill.png"),
		Entry("drops directories", "../../etc/passwd.png", "passwd.png"),
		Entry("defaults an empty base", "!!!.heic", "bill.heic"),
	)

	It("truncates long names", func() {
		long := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.jpg"
		Expect(SanitizeFilename(long)).To(HaveLen(54))
	})
})
