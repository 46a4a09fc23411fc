package ledger

import (
	"errors"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("FileStore", func() {
	var (
		tmpDir string
		store  *FileStore
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		store, err = NewFileStore(filepath.Join(tmpDir, "data"))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Set", func() {
		It("should write one json file per key", func() {
			Expect(store.Set(BasketKey, []byte(`[]`))).To(Succeed())
			Expect(filepath.Join(tmpDir, "data", "basket.json")).To(BeAnExistingFile())
		})

		It("should not leave the temporary file behind", func() {
			Expect(store.Set(LedgerKey, []byte(`[]`))).To(Succeed())
			Expect(filepath.Join(tmpDir, "data", "ledger.json.tmp")).NotTo(BeAnExistingFile())
		})

		It("should reject keys that would escape the directory", func() {
			Expect(store.Set("../outside", []byte(`x`))).To(HaveOccurred())
			Expect(store.Set("..", []byte(`x`))).To(HaveOccurred())
		})
	})

	Describe("Get", func() {
		When("the key was set", func() {
			BeforeEach(func() {
				Expect(store.Set(BasketKey, []byte(`[{"id":"a"}]`))).To(Succeed())
			})

			It("should return the latest value", func() {
				Expect(store.Set(BasketKey, []byte(`[{"id":"b"}]`))).To(Succeed())
				data, err := store.Get(BasketKey)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal(`[{"id":"b"}]`))
			})
		})

		When("the key was never set", func() {
			It("should return ErrKeyNotFound", func() {
				_, err := store.Get(LedgerKey)
				Expect(errors.Is(err, ErrKeyNotFound)).To(BeTrue())
			})
		})
	})

	Describe("Remove", func() {
		It("should delete the value", func() {
			Expect(store.Set(BasketKey, []byte(`[]`))).To(Succeed())
			Expect(store.Remove(BasketKey)).To(Succeed())
			_, err := store.Get(BasketKey)
			Expect(errors.Is(err, ErrKeyNotFound)).To(BeTrue())
		})

		It("should ignore missing keys", func() {
			Expect(store.Remove("missing")).To(Succeed())
		})
	})
})
