/*
Package capability implements the deny-by-default gate in front of every
host operation a widget can request.

A widget's permission set is resolved once from its manifest when it is
placed on a canvas. An operation name such as "network.fetch" is tagged by
its first segment ("network"); a request succeeds only when that tag is in
the instance's permission set and an operation of that exact name has been
registered. Unknown operations are refused exactly like ungranted ones, so
a widget cannot enumerate what the host offers.

Denials are the one failure a widget is told about: the PermissionDenied
result is delivered back into the requesting context only.
*/
package capability
