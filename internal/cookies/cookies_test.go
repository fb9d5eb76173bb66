package cookies_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/readsync/internal/cookies"
	"github.com/TheMichaelB/readsync/internal/crypto/testdata"
)

func parse(t *testing.T, doc string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc), &out))
	return out
}

func TestFromDocumentNested(t *testing.T) {
	jar, err := cookies.FromDocument(parse(t, testdata.WeReadJar))
	require.NoError(t, err)

	assert.Equal(t, []string{".weread.qq.com", "i.weread.qq.com", "weread.qq.com"}, jar.Domains())
	assert.Equal(t, "10086", jar["weread.qq.com"]["/"]["wr_vid"])
	assert.Equal(t, "0", jar[".weread.qq.com"]["/web"]["wr_pf"])
	assert.Equal(t, []string{"wr_name", "wr_pf"}, jar.Names(".weread.qq.com"))
	assert.Equal(t, 5, jar.Count())
}

func TestFromDocumentArray(t *testing.T) {
	jar, err := cookies.FromDocument(parse(t, testdata.CookieCloudJar))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"wr_vid": "10086", "wr_skey": "skey-abc"}, jar["weread.qq.com"]["/"])
}

func TestFromDocumentSkipsOddValues(t *testing.T) {
	jar, err := cookies.FromDocument(parse(t, `{"cookie_data":{
		"a.com":{"/":{"n":1,"b":true,"obj":{"x":1}},"/bad":"string"},
		"b.com":[{"name":"","value":"x"},{"name":"ok","value":"v"},{"name":"nv"},"junk"],
		"c.com":42}}`))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"n": "1", "b": "true"}, jar["a.com"]["/"])
	assert.Equal(t, map[string]string{"ok": "v"}, jar["b.com"]["/"])
	assert.NotContains(t, jar, "c.com")
}

func TestFromDocumentMissing(t *testing.T) {
	_, err := cookies.FromDocument(map[string]any{"other": 1})
	assert.ErrorIs(t, err, cookies.ErrNoCookieData)

	_, err = cookies.FromDocument(map[string]any{"cookie_data": []any{}})
	assert.ErrorIs(t, err, cookies.ErrNoCookieData)
}

func TestExtractUnionsBareAndDotDomains(t *testing.T) {
	jar := cookies.Jar{
		"example.com":  {"/": {"a": "1"}},
		".example.com": {"/": {"b": "2"}},
		"other.com":    {"/": {"c": "3"}},
	}

	got := cookies.Extract(jar, "example.com")
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got)

	// A dot-prefixed target is normalised to the same lookup.
	assert.Equal(t, got, cookies.Extract(jar, ".example.com"))
}

func TestExtractOrdering(t *testing.T) {
	jar := cookies.Jar{
		"example.com":   {"/web": {"k": "web"}, "/": {"k": "root"}},
		".example.com":  {"/": {"d": "dot"}},
		"example.org":   {"/": {"d": "org"}},
		"i.example.com": {"/": {"k": "sub"}},
	}

	got := cookies.Extract(jar, "example.com")
	assert.Equal(t, "web", got["k"], "sorted paths, later write wins")
	assert.Equal(t, "dot", got["d"])

	got = cookies.Extract(jar, "example.com", "example.org", "i.example.com")
	assert.Equal(t, "org", got["d"])
	assert.Equal(t, "sub", got["k"])
}

func TestExtractEmpty(t *testing.T) {
	got := cookies.Extract(cookies.Jar{"a.com": {"/": {"x": "1"}}}, "b.com", "", ".")
	assert.NotNil(t, got)
	assert.Empty(t, got)

	assert.Empty(t, cookies.Extract(nil, "a.com"))
}

func TestExtractWeRead(t *testing.T) {
	jar, err := cookies.FromDocument(parse(t, testdata.WeReadJar))
	require.NoError(t, err)

	got := cookies.Extract(jar, "weread.qq.com", "i.weread.qq.com")
	assert.Equal(t, map[string]string{
		"wr_vid":      "10086",
		"wr_skey":     "skey-abc",
		"wr_name":     "reader",
		"wr_pf":       "0",
		"wr_localvid": "local-1",
	}, got)
}

func TestHeader(t *testing.T) {
	assert.Equal(t, "", cookies.Header(nil))
	assert.Equal(t, "a=1; b=2; c=3", cookies.Header(map[string]string{"c": "3", "a": "1", "b": "2"}))
}

func TestHTTPJar(t *testing.T) {
	jar, err := cookies.HTTPJar(map[string]string{"wr_vid": "1", "wr_skey": "k"}, "https://weread.qq.com/web")
	require.NoError(t, err)

	for _, raw := range []string{"https://weread.qq.com/web/user/notebooks", "https://i.weread.qq.com/book"} {
		u, _ := url.Parse(raw)
		got := map[string]string{}
		for _, c := range jar.Cookies(u) {
			got[c.Name] = c.Value
		}
		assert.Equal(t, map[string]string{"wr_vid": "1", "wr_skey": "k"}, got, raw)
	}

	u, _ := url.Parse("https://qq.com/")
	assert.Empty(t, jar.Cookies(u))
}

func TestHTTPJarSendsCookies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("wr_skey")
		require.NoError(t, err)
		assert.Equal(t, "k", c.Value)
	}))
	defer server.Close()

	jar, err := cookies.HTTPJar(map[string]string{"wr_skey": "k"}, server.URL)
	require.NoError(t, err)

	client := &http.Client{Jar: jar}
	resp, err := client.Get(server.URL + "/x")
	require.NoError(t, err)
	resp.Body.Close()
}

func TestHTTPJarInvalidURL(t *testing.T) {
	_, err := cookies.HTTPJar(nil, "not a url")
	assert.Error(t, err)

	_, err = cookies.HTTPJar(nil, "://bad")
	assert.Error(t, err)
}
