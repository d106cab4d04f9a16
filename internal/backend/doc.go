// Package backend talks to the hosted project's REST and auth services.
//
// Client implements Store, the query surface the rest of clanhub depends on:
//
//	GET    /rest/v1/<table>?select=..&order=..&col=eq.v&limit=n   Select
//	POST   /rest/v1/<table>                                       Insert
//	PATCH  /rest/v1/<table>?id=eq.<id>                            Update
//	DELETE /rest/v1/<table>?id=eq.<id>                            Delete
//
// Writes ask for return=representation so callers get the row the server
// stored. Every request carries the project API key and a bearer token: the
// API key until SetAccessToken installs a user token. SignIn and
// RefreshSession install the token they receive; SignOut clears it.
//
// Non-2xx responses become *APIError with the status and the server's
// message. IsUnauthorized picks out the 401 an expired token produces.
package backend
