// Package cookies turns a decrypted cookie-store export into the cookies the
// reading platform client needs.
//
// Cookie values are sensitive. They are kept in memory only and never logged;
// only domains and cookie names may appear in output.
package cookies
