package ledger

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/grocery-tracker/internal/extract"
	"github.com/zombor/grocery-tracker/internal/pricing"
	"github.com/zombor/grocery-tracker/internal/resolve"
)

// ghttp routes every request for a method through one handler
var anyPath = regexp.MustCompile(".*")

var _ = Describe("Server", func() {
	var (
		store       *mockStore
		resolver    *mockResolver
		recognizer  *mockRecognizer
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.RouteToHandler("GET", anyPath, server.ServeHTTP)
		ghttpServer.RouteToHandler("POST", anyPath, server.ServeHTTP)
		ghttpServer.RouteToHandler("PUT", anyPath, server.ServeHTTP)
		ghttpServer.RouteToHandler("DELETE", anyPath, server.ServeHTTP)
		ghttpServer.RouteToHandler("OPTIONS", anyPath, server.ServeHTTP)
	}

	do := func(method, path string, body any) *http.Response {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequest(method, ghttpServer.URL()+path, reader)
		Expect(err).NotTo(HaveOccurred())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	errorMessage := func(resp *http.Response) string {
		var body map[string]string
		decode(resp, &body)
		return body["error"]
	}

	BeforeEach(func() {
		store = newMockStore()
		resolver = &mockResolver{}
		recognizer = &mockRecognizer{}
		service = NewServiceWithDeps(store, resolver, recognizer, &mockIDGenerator{}, &mockTimeSource{now: baseTime})
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleIndex", func() {
		It("should serve the HTML interface", func() {
			resp := do("GET", "/", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("Grocery Tracker"))
		})

		It("should not serve unknown paths", func() {
			resp := do("GET", "/nope", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "ana", Password: "secret"}
			setupServer()
		})

		It("should reject requests without credentials", func() {
			resp := do("GET", "/api/basket", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/basket", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("ana:secret")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should answer preflight requests without credentials", func() {
			resp := do("OPTIONS", "/api/basket", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PUT"))
		})
	})

	Describe("basket", func() {
		It("should add an item and show it in the basket", func() {
			resp := do("POST", "/api/basket/items", ItemInput{Name: "Arroz", Category: "Mercearia", UnitPrice: 4.5, Quantity: 5})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var item LineItem
			decode(resp, &item)
			Expect(item.ID).To(Equal("id-1"))

			resp = do("GET", "/api/basket", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			var view struct {
				ItemCount    int    `json:"itemCount"`
				TotalDisplay string `json:"totalDisplay"`
				Tip          struct {
					Category string `json:"category"`
				} `json:"tip"`
			}
			decode(resp, &view)
			Expect(view.ItemCount).To(Equal(1))
			Expect(view.TotalDisplay).To(Equal("R$ 22,50"))
			Expect(view.Tip.Category).To(Equal("Mercearia"))
		})

		It("should reject invalid items with 422", func() {
			resp := do("POST", "/api/basket/items", ItemInput{Name: "Arroz", UnitPrice: 0, Quantity: 1})
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			Expect(errorMessage(resp)).To(ContainSubstring("unitPrice"))
		})

		It("should reject malformed bodies with 400", func() {
			req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/basket/items", strings.NewReader("{"))
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should update, adjust and remove items", func() {
			item, err := service.AddItem(ItemInput{Name: "Leite", UnitPrice: 5, Quantity: 2})
			Expect(err).NotTo(HaveOccurred())

			resp := do("PUT", "/api/basket/items/"+item.ID, ItemInput{UnitPrice: 6, Quantity: 2})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()

			resp = do("POST", "/api/basket/items/"+item.ID+"/quantity", map[string]int{"delta": -5})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var adjusted LineItem
			decode(resp, &adjusted)
			Expect(adjusted.Quantity).To(Equal(1))
			Expect(adjusted.UnitPrice).To(Equal(6.0))

			resp = do("DELETE", "/api/basket/items/"+item.ID, nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(service.Basket()).To(BeEmpty())
		})

		It("should return 404 for unknown items", func() {
			resp := do("DELETE", "/api/basket/items/missing", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})

		It("should clear the basket", func() {
			_, err := service.AddItem(ItemInput{Name: "Leite", UnitPrice: 5, Quantity: 2})
			Expect(err).NotTo(HaveOccurred())
			resp := do("DELETE", "/api/basket", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(service.Basket()).To(BeEmpty())
		})
	})

	Describe("commit and purchases", func() {
		It("should return 422 when committing an empty basket", func() {
			resp := do("POST", "/api/basket/commit", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			resp.Body.Close()
		})

		It("should commit, list, show and delete a purchase", func() {
			_, err := service.AddItem(ItemInput{Name: "Picanha", Category: "Açougue", UnitPrice: 80, Quantity: 1})
			Expect(err).NotTo(HaveOccurred())

			resp := do("POST", "/api/basket/commit", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var purchase Purchase
			decode(resp, &purchase)
			Expect(purchase.Total).To(Equal(80.0))

			resp = do("GET", "/api/purchases", nil)
			var purchases []Purchase
			decode(resp, &purchases)
			Expect(purchases).To(HaveLen(1))

			resp = do("GET", "/api/purchases/"+purchase.ID, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var detail struct {
				Purchase Purchase      `json:"purchase"`
				Dominant CategoryTotal `json:"dominant"`
			}
			decode(resp, &detail)
			Expect(detail.Dominant.Category).To(Equal("Açougue"))
			Expect(detail.Dominant.Percent).To(Equal(100))

			resp = do("GET", "/api/history", nil)
			var history struct {
				PurchaseCount int    `json:"purchaseCount"`
				TopCategory   string `json:"topCategory"`
			}
			decode(resp, &history)
			Expect(history.PurchaseCount).To(Equal(1))
			Expect(history.TopCategory).To(Equal("Açougue"))

			resp = do("DELETE", "/api/purchases/"+purchase.ID, nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp = do("GET", "/api/purchases/"+purchase.ID, nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should return 409 when editing over a non-empty basket", func() {
			_, err := service.AddItem(ItemInput{Name: "Pão", UnitPrice: 8, Quantity: 1})
			Expect(err).NotTo(HaveOccurred())
			purchase, err := service.Commit()
			Expect(err).NotTo(HaveOccurred())
			_, err = service.AddItem(ItemInput{Name: "Café", UnitPrice: 18, Quantity: 1})
			Expect(err).NotTo(HaveOccurred())

			resp := do("POST", "/api/purchases/"+purchase.ID+"/edit", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})
	})

	Describe("imports", func() {
		It("should return candidates for a resolved url", func() {
			resolver.candidates = []extract.Candidate{{Name: "Arroz", UnitPrice: 4.5, Quantity: 5, PricingMode: pricing.Unit}}
			resp := do("POST", "/api/import/url", map[string]string{"url": "https://nfce.example/q"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var candidates []extract.Candidate
			decode(resp, &candidates)
			Expect(candidates).To(HaveLen(1))

			resp = do("POST", "/api/basket/candidates", map[string]any{"category": "Mercearia"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var accepted struct {
				Accepted []LineItem `json:"accepted"`
				Skipped  int        `json:"skipped"`
			}
			decode(resp, &accepted)
			Expect(accepted.Accepted).To(HaveLen(1))
			Expect(accepted.Accepted[0].Category).To(Equal("Mercearia"))
		})

		It("should report fetch failures as 502 with a hint", func() {
			resolver.err = &resolve.FetchError{URL: "https://nfce.example/q", StatusCode: 404}
			resp := do("POST", "/api/import/url", map[string]string{"url": "https://nfce.example/q"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			Expect(errorMessage(resp)).To(ContainSubstring("CORS"))
		})

		It("should report documents without items as 422", func() {
			resolver.err = resolve.ErrNoItemsFound
			resp := do("POST", "/api/import/url", map[string]string{"url": "https://nfce.example/q"})
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			resp.Body.Close()
		})

		It("should extract candidates from pasted text", func() {
			resp := do("POST", "/api/import/text", map[string]string{"text": "Leite Integral 1L 6,99\nTOTAL 6,99", "source": "ocr"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var candidates []extract.Candidate
			decode(resp, &candidates)
			Expect(candidates).To(HaveLen(1))
		})

		It("should answer with valid JSON when an invoice quantity is not a number", func() {
			document := `<nfeProc><NFe><infNFe><det nItem="1"><prod><xProd>Tomate</xProd><uCom>KG</uCom>` +
				`<qCom>NaN</qCom><vUnCom>8,00</vUnCom><vProd>8,00</vProd></prod></det></infNFe></NFe></nfeProc>`
			resp := do("POST", "/api/import/text", map[string]string{"text": document, "source": "html"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var candidates []extract.Candidate
			decode(resp, &candidates)
			Expect(candidates).To(Equal([]extract.Candidate{
				{Name: "Tomate", UnitPrice: 8, Quantity: 1, PricingMode: pricing.Weight, WeightGrams: 1000},
			}))

			resp = do("GET", "/api/basket/candidates", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			decode(resp, &candidates)
			Expect(candidates).To(HaveLen(1))
		})

		It("should reject unknown text sources", func() {
			resp := do("POST", "/api/import/text", map[string]string{"text": "x", "source": "fax"})
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should recognize uploaded photos", func() {
			recognizer.text = "Banana prata 5,49"

			body := &bytes.Buffer{}
			writer := multipart.NewWriter(body)
			part, err := writer.CreateFormFile("file", "receipt.png")
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write([]byte("png bytes"))
			Expect(err).NotTo(HaveOccurred())
			Expect(writer.Close()).To(Succeed())

			req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/import/photo", body)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", writer.FormDataContentType())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var candidates []extract.Candidate
			decode(resp, &candidates)
			Expect(candidates).To(HaveLen(1))
			Expect(candidates[0].Name).To(Equal("Banana prata"))
			Expect(recognizer.contentType).To(Equal("image/png"))
		})

		It("should require a file", func() {
			body := &bytes.Buffer{}
			writer := multipart.NewWriter(body)
			Expect(writer.WriteField("note", "no file")).To(Succeed())
			Expect(writer.Close()).To(Succeed())

			req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/import/photo", body)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", writer.FormDataContentType())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("writeJSON", func() {
		It("should fail with a 500 instead of a truncated 200 when the value cannot be encoded", func() {
			recorder := httptest.NewRecorder()
			writeJSON(recorder, http.StatusOK, map[string]float64{"weightGrams": math.NaN()})
			Expect(recorder.Code).To(Equal(http.StatusInternalServerError))
			Expect(recorder.Header().Get("Content-Type")).To(Equal("application/json"))
			Expect(recorder.Body.String()).To(MatchJSON(`{"error": "Internal server error"}`))
		})
	})

	Describe("helpers", func() {
		It("should list categories in display order", func() {
			resp := do("GET", "/api/categories", nil)
			var categories []string
			decode(resp, &categories)
			Expect(categories).To(Equal(Categories))
		})

		It("should suggest weight pricing for produce", func() {
			resp := do("GET", "/api/suggest?name=Tomate&category=Hortifruti", nil)
			var suggestion struct {
				PricingMode pricing.Mode `json:"pricingMode"`
				WeightGrams float64      `json:"weightGrams"`
			}
			decode(resp, &suggestion)
			Expect(suggestion.PricingMode).To(Equal(pricing.Weight))
			Expect(suggestion.WeightGrams).To(Equal(500.0))
		})
	})
})
