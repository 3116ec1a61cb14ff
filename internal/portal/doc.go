// Package portal drives one authenticated browser session through the
// grading portal: it logs in, selects the reporting category, walks every
// listed item, captures each item's detail view and hands it to the change
// detector, persists the result, and reports changes once per cycle.
//
// A Controller is single-use: when Run returns with an error the session is
// assumed broken and the supervisor builds a fresh one.
package portal
