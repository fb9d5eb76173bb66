package testdata

// Plaintext documents used across decoder tests.
const (
	// SimpleJar is the minimal nested cookie_data document.
	SimpleJar = `{"cookie_data":{"example.com":{"/":{"session":"abc123"}}}}`

	// WeReadJar carries cookies under bare, dot-prefixed and sub-domains.
	WeReadJar = `{"cookie_data":{` +
		`"weread.qq.com":{"/":{"wr_vid":"10086","wr_skey":"skey-abc"}},` +
		`".weread.qq.com":{"/":{"wr_name":"reader"},"/web":{"wr_pf":"0"}},` +
		`"i.weread.qq.com":{"/":{"wr_localvid":"local-1"}}},` +
		`"local_storage_data":{}}`

	// CookieCloudJar is the array form the browser extension uploads.
	CookieCloudJar = `{"cookie_data":{"weread.qq.com":[` +
		`{"name":"wr_vid","value":"10086","domain":"weread.qq.com","path":"/","secure":true},` +
		`{"name":"wr_skey","value":"skey-abc","domain":"weread.qq.com","path":"/"}]},` +
		`"update_time":"2024-05-01T10:00:00.000Z"}`
)

// Vector describes one sealed payload.
type Vector struct {
	Name      string
	Strategy  string
	Password  string
	DeviceID  string
	Nonce     []byte // IV or salt, nil for strategies without one
	Plaintext string
}

// Vectors covers every strategy in the default chain.
var Vectors = []Vector{
	{
		Name:      "md5 digest key",
		Strategy:  "md5-digest",
		Password:  "hunter2",
		Plaintext: SimpleJar,
	},
	{
		Name:      "device md5 hex key",
		Strategy:  "device-md5-hex",
		Password:  "s3cret",
		DeviceID:  "b8f5d2c0-device",
		Nonce:     []byte("0123456789abcdef"),
		Plaintext: WeReadJar,
	},
	{
		Name:      "openssl evp salted",
		Strategy:  "openssl-evp",
		Password:  "hunter2",
		Nonce:     []byte("saltsalt"),
		Plaintext: SimpleJar,
	},
	{
		Name:      "openssl evp raw passphrase",
		Strategy:  "openssl-evp-raw",
		Password:  "correct horse",
		Nonce:     []byte{1, 2, 3, 4, 5, 6, 7, 8},
		Plaintext: WeReadJar,
	},
	{
		Name:      "md5 hex key",
		Strategy:  "md5-hex",
		Password:  "пароль123",
		Plaintext: WeReadJar,
	},
	{
		Name:      "md5 hex prefix key",
		Strategy:  "md5-hex-prefix",
		Password:  "hunter2",
		Plaintext: SimpleJar,
	},
	{
		Name:      "cookiecloud",
		Strategy:  "cookiecloud",
		Password:  "cc-password",
		DeviceID:  "5f3c6b1e-uuid",
		Nonce:     []byte("8bytesal"),
		Plaintext: CookieCloudJar,
	},
}
