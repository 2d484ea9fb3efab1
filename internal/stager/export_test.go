package stager

var Extract = extract
