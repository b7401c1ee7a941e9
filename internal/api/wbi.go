package api

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// mixinKeyEncTab is the fixed permutation applied to img_key+sub_key.
var mixinKeyEncTab = [64]int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35, 27, 43, 5, 49,
	33, 9, 42, 19, 29, 28, 14, 39, 12, 38, 41, 13, 37, 48, 7, 16, 24, 55, 40,
	61, 26, 17, 0, 1, 60, 51, 30, 4, 22, 25, 54, 21, 56, 59, 6, 63, 57, 62, 11,
	36, 20, 34, 44, 52,
}

// WBIKeys are the two rotating keys published by the nav endpoint.
type WBIKeys struct {
	ImgKey string
	SubKey string
}

// MixinKey derives the 32-character signing salt.
func (k WBIKeys) MixinKey() string {
	orig := k.ImgKey + k.SubKey
	var b strings.Builder
	for _, i := range mixinKeyEncTab {
		if i < len(orig) {
			b.WriteByte(orig[i])
		}
	}
	s := b.String()
	if len(s) > 32 {
		s = s[:32]
	}
	return s
}

// Sign returns a copy of params with wts and w_rid added.
func (k WBIKeys) Sign(params url.Values, now time.Time) url.Values {
	signed := url.Values{}
	for key, vals := range params {
		for _, v := range vals {
			signed.Add(key, stripReserved(v))
		}
	}
	signed.Set("wts", strconv.FormatInt(now.Unix(), 10))

	// Encode sorts by key.
	query := signed.Encode()
	sum := md5.Sum([]byte(query + k.MixinKey()))
	signed.Set("w_rid", hex.EncodeToString(sum[:]))
	return signed
}

func stripReserved(v string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune("!'()*", r) {
			return -1
		}
		return r
	}, v)
}

// keyFromURL extracts the file stem of a wbi image URL.
func keyFromURL(u string) string {
	base := path.Base(u)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return base
}
