package medium

var RootsFromMask = rootsFromMask
