// Package places turns raw listing-panel strings into normalized business
// records.
package places

import (
	"errors"
	"regexp"
	"strings"

	"github.com/JakeFAU/placecrawler/internal/crawler"
)

// Record field names.
const (
	FieldName         = crawler.NameField
	FieldPhone        = "phone"
	FieldAddress      = "address"
	FieldWebsite      = "website"
	FieldOpeningHours = "opening_hours"
	FieldURL          = "url"
)

// Fields lists record fields in export column order.
var Fields = []string{FieldName, FieldPhone, FieldAddress, FieldWebsite, FieldOpeningHours, FieldURL}

// ErrNoName is returned when the panel has no usable business name.
var ErrNoName = errors.New("listing has no name")

// Raw holds the strings scraped from one listing's detail panel. Candidate
// slices are ordered by preference.
type Raw struct {
	URL               string   `json:"url"`
	Names             []string `json:"names"`
	PhoneCandidates   []string `json:"phones"`
	AddressLabel      string   `json:"addressLabel"`
	AddressCandidates []string `json:"addressTexts"`
	PanelText         string   `json:"panelText"`
	WebsiteLabel      string   `json:"websiteLabel"`
	WebsiteLinks      []string `json:"websiteLinks"`
	HoursLabel        string   `json:"hoursLabel"`
	HoursCandidates   []string `json:"hoursTexts"`
}

// Normalize builds a record from raw. It fails only when no name is found.
func Normalize(raw Raw) (crawler.Record, error) {
	name := pickName(raw.Names)
	if name == "" {
		return nil, ErrNoName
	}
	return crawler.Record{
		FieldName:         name,
		FieldPhone:        firstPhone(raw.PhoneCandidates),
		FieldAddress:      pickAddress(raw),
		FieldWebsite:      pickWebsite(raw),
		FieldOpeningHours: pickHours(raw),
		FieldURL:          strings.TrimSpace(raw.URL),
	}, nil
}

func pickName(candidates []string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if len([]rune(c)) > 2 {
			return c
		}
	}
	return ""
}

var phonePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:\+84|84|0)[\s.-]?\d{1,4}[\s.-]?\d{3}[\s.-]?\d{3,4}`),
	regexp.MustCompile(`(?:\+84|84|0)\d{9,10}`),
	regexp.MustCompile(`\b\d{10,11}\b`),
}

var nonPhoneChars = regexp.MustCompile(`[^\d+]`)

// ExtractPhone finds a Vietnamese phone number in text and returns it in
// national form (leading 0, 10 or 11 digits), or "".
func ExtractPhone(text string) string {
	for _, pattern := range phonePatterns {
		match := pattern.FindString(text)
		if match == "" {
			continue
		}
		phone := nonPhoneChars.ReplaceAllString(match, "")
		switch {
		case strings.HasPrefix(phone, "+84"):
			phone = "0" + phone[3:]
		case strings.HasPrefix(phone, "84"):
			phone = "0" + phone[2:]
		}
		if n := len(phone); n >= 10 && n <= 11 {
			return phone
		}
	}
	return ""
}

func firstPhone(candidates []string) string {
	for _, c := range candidates {
		if phone := ExtractPhone(c); phone != "" {
			return phone
		}
	}
	return ""
}

var (
	urlPattern    = regexp.MustCompile(`https?://[^\s"',<>]+`)
	domainPattern = regexp.MustCompile(`(?:www\.)?[a-zA-Z0-9-]+\.[a-zA-Z]{2,}(?:\.[a-zA-Z]{2,})?`)
)

// ExtractWebsite pulls a website URL from an accessibility label. Bare
// domains get an https:// scheme. Google-hosted URLs are ignored.
func ExtractWebsite(text string) string {
	if u := urlPattern.FindString(text); u != "" && !isGoogleURL(u) {
		return u
	}
	if d := domainPattern.FindString(text); d != "" && !isGoogleURL(d) {
		return "https://" + d
	}
	return ""
}

func isGoogleURL(u string) bool {
	return strings.Contains(u, "google.com") || strings.Contains(u, "gstatic.com")
}

func pickWebsite(raw Raw) string {
	if w := ExtractWebsite(raw.WebsiteLabel); w != "" {
		return w
	}
	for _, link := range raw.WebsiteLinks {
		link = strings.TrimSpace(link)
		if strings.HasPrefix(link, "http") && !isGoogleURL(link) {
			return link
		}
	}
	return ""
}

var hoursPrefixes = []string{"Hours:", "Giờ:", "Opening hours:", "Thời gian mở cửa:"}

// CleanHours strips label prefixes from an opening-hours string. Results of
// three characters or fewer are discarded.
func CleanHours(text string) string {
	cleaned := text
	for _, prefix := range hoursPrefixes {
		if _, after, ok := strings.Cut(cleaned, prefix); ok {
			cleaned = strings.TrimSpace(after)
		}
	}
	if len([]rune(cleaned)) <= 3 {
		return ""
	}
	return strings.TrimSpace(strings.ReplaceAll(cleaned, "⋅", "•"))
}

func pickHours(raw Raw) string {
	if h := CleanHours(raw.HoursLabel); h != "" {
		return h
	}
	for _, c := range raw.HoursCandidates {
		if h := CleanHours(strings.TrimSpace(c)); h != "" {
			return h
		}
	}
	return ""
}

var (
	addressLabelPrefixes = []string{"Address:", "Địa chỉ:"}
	addressCities        = []string{"Hà Nội", "TP.HCM", "TP HCM", "Sài Gòn", "Đà Nẵng", "Cần Thơ", "Hải Phòng", "Việt Nam"}
	notAddressMarkers    = []string{"★", "đánh giá", "rating", "Mở cửa", "Đóng cửa"}
)

// AddressFromLabel extracts the address from an "Address: ..." label.
func AddressFromLabel(label string) string {
	for _, prefix := range addressLabelPrefixes {
		if _, after, ok := strings.Cut(label, prefix); ok {
			if after = strings.TrimSpace(after); after != "" {
				return after
			}
		}
	}
	return ""
}

// AddressFromText returns the first line of text that names a known city
// and is long enough to be a street address.
func AddressFromText(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !looksLikeAddress(line) {
			continue
		}
		if _, after, ok := strings.Cut(line, ":"); ok {
			line = strings.TrimSpace(after)
		}
		return line
	}
	return ""
}

func looksLikeAddress(line string) bool {
	if len([]rune(line)) <= 15 {
		return false
	}
	for _, city := range addressCities {
		if strings.Contains(line, city) {
			return true
		}
	}
	return false
}

func pickAddress(raw Raw) string {
	if a := AddressFromLabel(raw.AddressLabel); a != "" {
		return a
	}
	for _, c := range raw.AddressCandidates {
		c = strings.TrimSpace(c)
		if looksLikeAddress(c) && !containsAny(c, notAddressMarkers) {
			return c
		}
	}
	return AddressFromText(raw.PanelText)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
