// Package transport implements the capability.Fetcher/Extractor ports with
// a plain net/http client and the golang.org/x/net/html parser, the same
// charset-aware-decode/html.Parse combination the teacher's
// contentfetcher.go and extraction/microcrawl.go use for their own
// fetch/parse steps. Both are generalized here from "arbitrary site
// persona fetching + keyword extraction" down to "one product catalog's
// list/detail pages", since everything else about the teacher's fetch
// stack (DNS personas, proxy rotation, TLS fingerprinting) is out of the
// crawl kernel's scope.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/fntelecomllc/crawlkernel/internal/capability"
	"github.com/fntelecomllc/crawlkernel/internal/models"
)

// HTTPFetcher implements capability.Fetcher over net/http.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher constructs a Fetcher with a bounded per-request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

type httpResponse struct {
	status int
	body   string
}

func (r *httpResponse) Text() (string, error) { return r.body, nil }
func (r *httpResponse) StatusCode() int        { return r.status }

// Fetch issues a GET request, decoding the body to UTF-8 per its declared
// or sniffed charset before returning it as text.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, opts capability.FetchOptions) (capability.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	if opts.UserAgent != "" {
		req.Header.Set("User-Agent", opts.UserAgent)
	}
	if opts.Referer != "" {
		req.Header.Set("Referer", opts.Referer)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		reader = resp.Body
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("transport: read body %s: %w", url, err)
	}
	return &httpResponse{status: resp.StatusCode, body: string(body)}, nil
}

// HTMLExtractor implements capability.Extractor by walking the
// golang.org/x/net/html parse tree for anchor hrefs and a handful of
// labelled fields, and falling back to a regexp for the total-page count
// a paginator widget carries as plain text.
type HTMLExtractor struct {
	ProductLinkSelector *regexp.Regexp // matches an href worth treating as a product URL
	TotalPagesPattern   *regexp.Regexp // first capture group is the page count
}

// NewHTMLExtractor constructs an Extractor from the two site-specific
// patterns a deployment must supply (the site's URL shape and its
// paginator's "Page N of M" text).
func NewHTMLExtractor(productLinkPattern, totalPagesPattern string) (*HTMLExtractor, error) {
	linkRe, err := regexp.Compile(productLinkPattern)
	if err != nil {
		return nil, fmt.Errorf("transport: product link pattern: %w", err)
	}
	pagesRe, err := regexp.Compile(totalPagesPattern)
	if err != nil {
		return nil, fmt.Errorf("transport: total pages pattern: %w", err)
	}
	return &HTMLExtractor{ProductLinkSelector: linkRe, TotalPagesPattern: pagesRe}, nil
}

// ExtractProductURLs walks every anchor in htmlBody and returns the hrefs
// matching ProductLinkSelector, in document order (the order ListPage's
// canonical-slot assignment depends on).
func (e *HTMLExtractor) ExtractProductURLs(htmlBody string) ([]string, error) {
	doc, err := html.Parse(strings.NewReader(htmlBody))
	if err != nil {
		return nil, fmt.Errorf("transport: parse list page: %w", err)
	}
	var urls []string
	seen := map[string]struct{}{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				if e.ProductLinkSelector.MatchString(attr.Val) {
					if _, dup := seen[attr.Val]; !dup {
						seen[attr.Val] = struct{}{}
						urls = append(urls, attr.Val)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return urls, nil
}

// fieldSelectors maps a data-field attribute value to the ProductDetail
// pointer field it fills.
var fieldSelectors = map[string]func(*models.ProductDetail) **string{
	"manufacturer":            func(d *models.ProductDetail) **string { return &d.Manufacturer },
	"model":                   func(d *models.ProductDetail) **string { return &d.Model },
	"certificate-id":          func(d *models.ProductDetail) **string { return &d.CertificateID },
	"vendor-id":               func(d *models.ProductDetail) **string { return &d.VendorID },
	"product-id":              func(d *models.ProductDetail) **string { return &d.ProductID },
	"firmware-version":        func(d *models.ProductDetail) **string { return &d.FirmwareVersion },
	"hardware-version":        func(d *models.ProductDetail) **string { return &d.HardwareVersion },
	"software-version":        func(d *models.ProductDetail) **string { return &d.SoftwareVersion },
	"certification-date":      func(d *models.ProductDetail) **string { return &d.CertificationDate },
	"family-id":               func(d *models.ProductDetail) **string { return &d.FamilyID },
	"specification-version":   func(d *models.ProductDetail) **string { return &d.SpecificationVersion },
	"transport-interface":     func(d *models.ProductDetail) **string { return &d.TransportInterface },
	"primary-device-type-id":  func(d *models.ProductDetail) **string { return &d.PrimaryDeviceTypeID },
	"compliance-document-url": func(d *models.ProductDetail) **string { return &d.ComplianceDocumentURL },
	"program-type":            func(d *models.ProductDetail) **string { return &d.ProgramType },
	"device-type":             func(d *models.ProductDetail) **string { return &d.DeviceType },
	"commissioning-method":    func(d *models.ProductDetail) **string { return &d.CommissioningMethod },
	"discovery-capabilities":  func(d *models.ProductDetail) **string { return &d.DiscoveryCapabilities },
	"additional-comments":     func(d *models.ProductDetail) **string { return &d.AdditionalComments },
}

// ExtractProductDetail walks htmlBody for elements carrying a
// data-field="<name>" attribute matching fieldSelectors, and a
// data-field="tis-trp-tested" element whose text is "true"/"false".
func (e *HTMLExtractor) ExtractProductDetail(htmlBody, url string) (*models.ProductDetail, error) {
	doc, err := html.Parse(strings.NewReader(htmlBody))
	if err != nil {
		return nil, fmt.Errorf("transport: parse detail page: %w", err)
	}
	detail := &models.ProductDetail{URL: url}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, attr := range n.Attr {
				if attr.Key != "data-field" {
					continue
				}
				text := strings.TrimSpace(textContent(n))
				if text == "" {
					continue
				}
				if attr.Val == "tis-trp-tested" {
					b := strings.EqualFold(text, "true")
					detail.TisTrpTested = &b
					continue
				}
				if setter, ok := fieldSelectors[attr.Val]; ok {
					v := text
					*setter(detail) = &v
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return detail, nil
}

// ExtractTotalPages applies TotalPagesPattern to htmlBody, parsing its
// first capture group as the site's total physical page count.
func (e *HTMLExtractor) ExtractTotalPages(htmlBody string) (int32, error) {
	m := e.TotalPagesPattern.FindStringSubmatch(htmlBody)
	if len(m) < 2 {
		return 0, fmt.Errorf("transport: total pages pattern did not match")
	}
	n, err := strconv.Atoi(strings.TrimSpace(m[1]))
	if err != nil {
		return 0, fmt.Errorf("transport: parse total pages %q: %w", m[1], err)
	}
	return int32(n), nil
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}
