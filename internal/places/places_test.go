package places

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPhone(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"aria label", "Phone: 0283 822 1234", "02838221234"},
		{"international", "Điện thoại: +84 90 123 4567", "0901234567"},
		{"tel href", "tel:+84901234567", "0901234567"},
		{"country code without plus", "84 912 345 678", "0912345678"},
		{"plain digits", "Call 0912345678 now", "0912345678"},
		{"too short", "Phone: 123", ""},
		{"no digits", "Closed today", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ExtractPhone(tc.in))
		})
	}
}

func TestExtractWebsite(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://phohoa.vn/menu", ExtractWebsite("Website: https://phohoa.vn/menu"))
	assert.Equal(t, "https://www.banhmi.com", ExtractWebsite("Website: www.banhmi.com"))
	assert.Equal(t, "https://quanngon.com.vn", ExtractWebsite("Trang web: quanngon.com.vn "))
	assert.Equal(t, "", ExtractWebsite("Open now"))
	assert.Equal(t, "", ExtractWebsite("https://maps.google.com/place"))
}

func TestCleanHours(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Open • Closes 5 PM", CleanHours("Hours: Open ⋅ Closes 5 PM"))
	assert.Equal(t, "Mở cửa • Đóng cửa 17:00", CleanHours("Giờ: Mở cửa ⋅ Đóng cửa 17:00"))
	assert.Equal(t, "", CleanHours("Hours: 24"))
	assert.Equal(t, "Open 24 hours", CleanHours("Open 24 hours"))
}

func TestAddress(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "12 Lý Tự Trọng, Quận 1, TP.HCM", AddressFromLabel("Address: 12 Lý Tự Trọng, Quận 1, TP.HCM "))
	assert.Equal(t, "5 Hàng Bài, Hà Nội", AddressFromLabel("Địa chỉ: 5 Hàng Bài, Hà Nội"))
	assert.Equal(t, "", AddressFromLabel("Copy address"))

	panel := "Phở Thìn\n4.5 ★ (1,024)\nAddress: 13 Lò Đúc, Hai Bà Trưng, Hà Nội\nOpen now"
	assert.Equal(t, "13 Lò Đúc, Hai Bà Trưng, Hà Nội", AddressFromText(panel))
	assert.Equal(t, "", AddressFromText("short\nHà Nội"))
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	rec, err := Normalize(Raw{
		URL:               " https://www.google.com/maps/place/pho ",
		Names:             []string{"", "ab", "Phở Thìn Lò Đúc"},
		PhoneCandidates:   []string{"Copy phone number", "Phone: 0243 821 2709"},
		AddressCandidates: []string{"4.5 ★ rating in Hà Nội, Việt Nam", "13 Lò Đúc, Hai Bà Trưng, Hà Nội"},
		WebsiteLinks:      []string{"https://www.google.com/maps", "https://phothin.vn"},
		HoursCandidates:   []string{"  ", "Open ⋅ Closes 9 PM"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Phở Thìn Lò Đúc", rec.Name())
	assert.Equal(t, "02438212709", rec.String(FieldPhone))
	assert.Equal(t, "13 Lò Đúc, Hai Bà Trưng, Hà Nội", rec.String(FieldAddress))
	assert.Equal(t, "https://phothin.vn", rec.String(FieldWebsite))
	assert.Equal(t, "Open • Closes 9 PM", rec.String(FieldOpeningHours))
	assert.Equal(t, "https://www.google.com/maps/place/pho", rec.String(FieldURL))

	_, err = Normalize(Raw{Names: []string{"  ", "X"}})
	require.ErrorIs(t, err, ErrNoName)
}

func TestNormalizePrefersLabels(t *testing.T) {
	t.Parallel()

	rec, err := Normalize(Raw{
		Names:             []string{"Bánh Mì Huỳnh Hoa"},
		AddressLabel:      "Address: 26 Lê Thị Riêng, Quận 1, TP.HCM",
		AddressCandidates: []string{"Somewhere else in Sài Gòn city"},
		WebsiteLabel:      "Website: banhmihuynhhoa.vn",
		HoursLabel:        "Hours: Open ⋅ Closes 10 PM",
	})
	require.NoError(t, err)
	assert.Equal(t, "26 Lê Thị Riêng, Quận 1, TP.HCM", rec.String(FieldAddress))
	assert.Equal(t, "https://banhmihuynhhoa.vn", rec.String(FieldWebsite))
	assert.Equal(t, "Open • Closes 10 PM", rec.String(FieldOpeningHours))
	assert.Equal(t, "", rec.String(FieldPhone))
	assert.Len(t, Fields, 6)
}
