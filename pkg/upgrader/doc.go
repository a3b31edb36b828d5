// See upgrader.go for the Guest Upgrader's algorithm and family table.
package upgrader
