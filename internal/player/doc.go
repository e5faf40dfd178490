// Package player is the client side of a match.
//
// A Client asks the server group for a match server, joins that server's
// match group and turns the match traffic into Notifications for a user
// interface. It uses two transports: a control transport on an ephemeral
// port for the assignment exchange, and a match transport on the match port
// that joins the match group once the server accepts the player.
//
//	RequestMatch ──► server group ──► MatchAssignment
//	                                        │
//	           MatchJoin ──► match server ──┘
//	                              │
//	      MatchJoinResponse ◄─────┘  join match group, play rounds
package player
