// Package xtream implements the Xtream-Codes panel API data model for live
// streams. The protocol has no written specification; field names and the
// loose typing (numbers appearing as strings and vice versa) follow what
// widely deployed panels emit and what IPTV players accept.
//
// acerestreamer only serves live content, so the VOD and series surfaces of
// the protocol are not modelled. Responses are built with the New* helpers
// and marshalled with encoding/json; the Flex* types keep parsing tolerant
// for the admin endpoints that re-read stored responses.
package xtream
